// Package metrics exposes Prometheus collectors for the avatar client and hub.
//
// All methods are safe on a nil *Metrics, so components take metrics as an
// optional dependency.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "avatar"

// Connection states as reported by the state gauge.
var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// Metrics groups every collector.
type Metrics struct {
	ConnectionState   *prometheus.GaugeVec
	ReconnectAttempts prometheus.Counter
	ReconnectGiveUps  prometheus.Counter
	Registrations     prometheus.Counter

	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec

	BlendSessions  *prometheus.CounterVec
	LipSyncTracks  prometheus.Counter
	FrameDuration  prometheus.Histogram
	FramesRendered prometheus.Counter

	HubAvatars  prometheus.Gauge
	HubCommands *prometheus.CounterVec
}

// New creates and registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "1 for the current connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts",
		}),
		ReconnectGiveUps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Total number of times reconnection gave up",
		}),
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Total number of register handshakes sent",
		}),
		MessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of messages sent, by type",
			},
			[]string{"type"},
		),
		MessagesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of messages decoded, by type",
			},
			[]string{"type"},
		),
		DecodeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Total number of discarded inbound messages, by reason",
			},
			[]string{"reason"},
		),
		BlendSessions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blend_sessions_total",
				Help:      "Total number of blend sessions started, by kind",
			},
			[]string{"kind"},
		),
		LipSyncTracks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lipsync_tracks_total",
			Help:      "Total number of lip-sync tracks started",
		}),
		FrameDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Time spent in one controller tick",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
		}),
		FramesRendered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of frames evaluated",
		}),
		HubAvatars: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "avatars",
			Help:      "Number of avatars connected to the hub",
		}),
		HubCommands: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "commands_total",
				Help:      "Total number of commands pushed to avatars, by type",
			},
			[]string{"type"},
		),
	}
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns collectors registered with the global Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// SetConnectionState marks state as the current one.
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

// ReconnectAttempt counts one reconnect attempt.
func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// ReconnectExhausted counts one give-up.
func (m *Metrics) ReconnectExhausted() {
	if m == nil {
		return
	}
	m.ReconnectGiveUps.Inc()
}

// Registered counts one register handshake.
func (m *Metrics) Registered() {
	if m == nil {
		return
	}
	m.Registrations.Inc()
}

// MessageSent counts an outbound message.
func (m *Metrics) MessageSent(msgType string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

// MessageReceived counts a decoded inbound message.
func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

// DecodeError counts a discarded inbound message.
func (m *Metrics) DecodeError(reason string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(reason).Inc()
}

// BlendStarted counts a blend session of the given kind ("emotion", "morph").
func (m *Metrics) BlendStarted(kind string) {
	if m == nil {
		return
	}
	m.BlendSessions.WithLabelValues(kind).Inc()
}

// LipSyncStarted counts a lip-sync track.
func (m *Metrics) LipSyncStarted() {
	if m == nil {
		return
	}
	m.LipSyncTracks.Inc()
}

// FrameEvaluated records the wall time of one tick.
func (m *Metrics) FrameEvaluated(d time.Duration) {
	if m == nil {
		return
	}
	m.FramesRendered.Inc()
	m.FrameDuration.Observe(d.Seconds())
}

// SetHubAvatars sets the number of avatars connected to the hub.
func (m *Metrics) SetHubAvatars(n int) {
	if m == nil {
		return
	}
	m.HubAvatars.Set(float64(n))
}

// HubCommand counts a command pushed by the hub.
func (m *Metrics) HubCommand(msgType string) {
	if m == nil {
		return
	}
	m.HubCommands.WithLabelValues(msgType).Inc()
}
