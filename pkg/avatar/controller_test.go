package avatar

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teslashibe/go-avatar/pkg/blend"
	"github.com/teslashibe/go-avatar/pkg/connection"
	"github.com/teslashibe/go-avatar/pkg/emotions"
	"github.com/teslashibe/go-avatar/pkg/metrics"
	"github.com/teslashibe/go-avatar/pkg/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const frame = 16 * time.Millisecond

// fakeTransport records calls and lets tests drive events by hand.
type fakeTransport struct {
	opens int
	sinks []connection.EventSink
	sent  [][]byte
}

func (f *fakeTransport) Open(_ context.Context, _ string, sink connection.EventSink) error {
	f.opens++
	f.sinks = append(f.sinks, sink)
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) emit(ev connection.Event) {
	f.sinks[len(f.sinks)-1](ev)
}

func (f *fakeTransport) message(data string) {
	f.emit(connection.Event{Kind: connection.EventMessage, Data: []byte(data)})
}

func (f *fakeTransport) sentOfType(t *testing.T, typ protocol.MessageType) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, data := range f.sent {
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		if msg.Type() == typ {
			out = append(out, msg)
		}
	}
	return out
}

// recordingRig keeps every call.
type recordingRig struct {
	frames     []blend.Weights
	body       []map[string]float64
	animations []string
	gaze       []protocol.Vector
	resets     int
}

func (r *recordingRig) ApplyWeights(w blend.Weights)          { r.frames = append(r.frames, w) }
func (r *recordingRig) ApplyBodyWeights(w map[string]float64) { r.body = append(r.body, w) }
func (r *recordingRig) PlayAnimation(name string)             { r.animations = append(r.animations, name) }
func (r *recordingRig) LookAt(v protocol.Vector)              { r.gaze = append(r.gaze, v) }
func (r *recordingRig) ResetGaze()                            { r.resets++ }
func (r *recordingRig) last() blend.Weights                   { return r.frames[len(r.frames)-1] }

// manualScheduler records callbacks and runs them on demand.
type manualScheduler struct {
	fns []func()
}

func (s *manualScheduler) AfterFunc(_ time.Duration, fn func()) {
	s.fns = append(s.fns, fn)
}

type harness struct {
	c   *Controller
	ft  *fakeTransport
	rig *recordingRig
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{ft: &fakeTransport{}, rig: &recordingRig{}}
	base := []Option{
		WithURL("ws://avatar.test/ws"),
		WithTransport(h.ft),
		WithRig(h.rig),
		WithScheduler(&manualScheduler{}),
		WithBlendOptions(blend.WithRand(rand.New(rand.NewPCG(1, 2)))),
	}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)
	h.c = c
	t.Cleanup(c.Stop)
	return h
}

// connect starts the controller and completes the handshake.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.c.Start(context.Background())
	h.ft.emit(connection.Event{Kind: connection.EventOpened})
	h.c.Tick(frame)
	require.Equal(t, connection.StateConnected, h.c.Connection().State())
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want error
	}{
		{"zero frame rate", []Option{WithURL("ws://x"), WithFrameRate(0)}, ErrInvalidConfig},
		{"zero queue", []Option{WithURL("ws://x"), WithQueueSize(0)}, ErrInvalidConfig},
		{"negative blend", []Option{WithURL("ws://x"), WithBlendDuration(-time.Second)}, ErrInvalidConfig},
		{"missing url", nil, connection.ErrInvalidConfig},
		{"bad blink", []Option{WithURL("ws://x"), WithBlendOptions(blend.WithBlink(0, 0))}, blend.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(append([]Option{WithTransport(&fakeTransport{})}, tt.opts...)...)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConnectRegisters(t *testing.T) {
	h := newHarness(t, WithClient("metahuman", "3.0", []string{"emotion"}))

	connected := 0
	h.c.OnConnected(func() { connected++ })

	h.c.Start(context.Background())
	h.ft.emit(connection.Event{Kind: connection.EventOpened})
	assert.Equal(t, connection.StateConnecting, h.c.Connection().State(), "events wait for the next tick")

	h.c.Tick(frame)
	assert.Equal(t, connection.StateConnected, h.c.Connection().State())
	assert.Equal(t, 1, connected)

	regs := h.ft.sentOfType(t, protocol.TypeRegister)
	require.Len(t, regs, 1)
	assert.Equal(t, protocol.Register{ClientType: "metahuman", Version: "3.0", Capabilities: []string{"emotion"}}, regs[0])
}

func TestEmotionCommand(t *testing.T) {
	h := newHarness(t, WithBlendDuration(100*time.Millisecond))
	h.connect(t)
	h.c.Engine().SetIdleEnabled(false)

	var seen []protocol.Message
	h.c.OnMessage(func(msg protocol.Message) { seen = append(seen, msg) })

	h.ft.message(`{"type":"emotion","emotion":"happy","intensity":0.5}`)
	h.c.Tick(50 * time.Millisecond)

	tag, intensity := h.c.Engine().Emotion()
	assert.Equal(t, emotions.Happy, tag)
	assert.Equal(t, 0.5, intensity)
	assert.InDelta(t, 0.2, h.rig.last()["mouthSmile_L"], 1e-9)

	h.c.Tick(50 * time.Millisecond)
	assert.InDelta(t, 0.4, h.rig.last()["mouthSmile_L"], 1e-9)

	require.Len(t, seen, 1)
	assert.Equal(t, protocol.Emotion{Emotion: "happy", Intensity: 0.5}, seen[0])
}

func TestUnknownEmotionFallsBackToNeutral(t *testing.T) {
	h := newHarness(t, WithBlendDuration(0))
	h.c.Engine().SetIdleEnabled(false)

	h.c.SetEmotion(emotions.Happy, 1)
	h.c.Tick(frame)
	require.NotEmpty(t, h.rig.last())

	h.c.HandleMessage([]byte(`{"type":"emotion","emotion":"melancholy"}`))
	h.c.Tick(frame)

	tag, _ := h.c.Engine().Emotion()
	assert.Equal(t, emotions.Neutral, tag)
	for ch, w := range h.rig.last() {
		assert.Zero(t, w, ch)
	}
}

func TestInvalidMessagesIgnored(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHarness(t, WithMetrics(m))
	h.c.Engine().SetIdleEnabled(false)

	var seen int
	h.c.OnMessage(func(protocol.Message) { seen++ })

	h.c.HandleMessage([]byte(`{"type":"dance","style":"tango"}`))
	h.c.HandleMessage([]byte(`{not json`))
	h.c.HandleMessage([]byte(`{"type":"morph"}`))
	h.c.Tick(frame)

	assert.Zero(t, seen)
	assert.Empty(t, h.rig.last())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrors.WithLabelValues("unknown_type")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecodeErrors.WithLabelValues("malformed")))
}

func TestMorphCommandMapsNames(t *testing.T) {
	h := newHarness(t, WithBlendDuration(0))
	h.c.Engine().SetIdleEnabled(false)

	h.c.HandleMessage([]byte(`{"type":"morph","morph_targets":{"face_smile":0.7,"custom_dial":0.1}}`))
	h.c.Tick(frame)

	assert.Equal(t, blend.Weights{"mouthSmile_L": 0.7, "custom_dial": 0.1}, h.rig.last())
}

func TestArousal(t *testing.T) {
	h := newHarness(t, WithArousalThreshold(0.3))
	h.connect(t)

	h.ft.message(`{"type":"arousal","level":1.7}`)
	h.c.Tick(frame)

	assert.Equal(t, 1.0, h.c.Arousal())
	tag, intensity := h.c.Engine().Emotion()
	assert.Equal(t, emotions.Aroused, tag)
	assert.Equal(t, 1.0, intensity)

	states := h.ft.sentOfType(t, protocol.TypeArousalState)
	require.Len(t, states, 1)
	assert.Equal(t, protocol.ArousalState{Level: 1}, states[0])
}

func TestArousalBelowThreshold(t *testing.T) {
	h := newHarness(t, WithArousalThreshold(0.3))
	h.connect(t)

	h.c.SetArousal(0.3)
	h.c.SetArousal(-2)

	tag, _ := h.c.Engine().Emotion()
	assert.Equal(t, emotions.Neutral, tag)
	assert.Zero(t, h.c.Arousal())

	states := h.ft.sentOfType(t, protocol.TypeArousalState)
	require.Len(t, states, 2)
	assert.Equal(t, protocol.ArousalState{Level: 0.3}, states[0])
	assert.Equal(t, protocol.ArousalState{Level: 0}, states[1])
}

func TestSetAnimationState(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.c.SetEmotion(emotions.Thinking, 1)
	h.c.SetAnimationState(StateTalking)
	assert.Equal(t, StateTalking, h.c.AnimationState())
	assert.False(t, h.c.Engine().IdleEnabled())

	h.c.SetAnimationState(StateListening)
	assert.True(t, h.c.Engine().IdleEnabled())

	changes := h.ft.sentOfType(t, protocol.TypeStateChange)
	require.Len(t, changes, 2)
	assert.Equal(t, protocol.StateChange{Animation: "talking", Emotion: "thinking"}, changes[0])
	assert.Equal(t, protocol.StateChange{Animation: "listening", Emotion: "thinking"}, changes[1])
}

func TestPlayStateAnimation(t *testing.T) {
	h := newHarness(t)

	h.c.PlayStateAnimation("kiss")

	assert.Equal(t, StateIntimate, h.c.AnimationState())
	assert.False(t, h.c.Engine().IdleEnabled())
	assert.Equal(t, []string{"kiss"}, h.rig.animations)
}

func TestAnimationCommand(t *testing.T) {
	h := newHarness(t)

	h.c.HandleMessage([]byte(`{"type":"animation","animation":"wave"}`))

	assert.Equal(t, []string{"wave"}, h.rig.animations)
	assert.Equal(t, StateIdle, h.c.AnimationState())
}

func TestLipSyncCommand(t *testing.T) {
	h := newHarness(t)
	h.c.Engine().SetIdleEnabled(false)

	h.c.HandleMessage([]byte(`{"type":"lipsync","data":[
		{"time":0,"viseme":"face_viseme_A","intensity":0.8},
		{"time":100,"viseme":"face_viseme_M"}
	]}`))
	require.True(t, h.c.Engine().LipSyncActive())

	h.c.Tick(50 * time.Millisecond)
	assert.Equal(t, blend.Weights{"viseme_aa": 0.8}, h.rig.last())

	h.c.Tick(50 * time.Millisecond)
	assert.Equal(t, blend.Weights{"viseme_aa": 0, "viseme_PP": 0, "face_viseme_REST": 1}, h.rig.last())
	assert.False(t, h.c.Engine().LipSyncActive())
}

func TestStopLipSync(t *testing.T) {
	h := newHarness(t)
	h.c.Engine().SetIdleEnabled(false)

	h.c.PlayLipSync([]protocol.LipSyncFrame{
		{Time: 0, Viseme: "face_viseme_O", Intensity: 1},
		{Time: 5000, Viseme: "face_viseme_E", Intensity: 1},
	})
	h.c.Tick(frame)
	h.c.StopLipSync()
	h.c.Tick(frame)

	assert.False(t, h.c.Engine().LipSyncActive())
	assert.Equal(t, blend.Weights{"viseme_O": 0, "face_viseme_REST": 1}, h.rig.last())
}

func TestLookAt(t *testing.T) {
	h := newHarness(t)

	_, ok := h.c.GazeTarget()
	assert.False(t, ok)

	h.c.HandleMessage([]byte(`{"type":"look_at","target":{"x":1,"y":2.5}}`))
	target, ok := h.c.GazeTarget()
	require.True(t, ok)
	assert.Equal(t, protocol.Vector{X: 1, Y: 2.5}, target)
	assert.Equal(t, []protocol.Vector{{X: 1, Y: 2.5}}, h.rig.gaze)

	h.c.ResetGaze()
	_, ok = h.c.GazeTarget()
	assert.False(t, ok)
	assert.Equal(t, 1, h.rig.resets)
}

func TestApplyCharacterConfig(t *testing.T) {
	h := newHarness(t)
	h.c.Engine().SetIdleEnabled(false)

	h.c.ApplyCharacterConfig(
		map[string]float64{"body_height": 1.1},
		map[string]float64{"face_browRaise": 0.4},
	)
	require.Len(t, h.rig.body, 1)
	assert.Equal(t, map[string]float64{"body_height": 1.1}, h.rig.body[0])

	h.c.Tick(frame)
	assert.Equal(t, blend.Weights{"browOuterUp_L": 0.4}, h.rig.last())

	h.c.Tick(frame)
	assert.Empty(t, h.rig.last(), "face parameters are one-shot writes")
}

func TestOutboundDroppedWhileDisconnected(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.c.SendEvent("ready", ""))
	assert.False(t, h.c.SendUserGesture("wave"))
	h.c.SetAnimationState(StateThinking)
	h.c.SetArousal(0.9)

	assert.Empty(t, h.ft.sent)
	assert.Equal(t, StateThinking, h.c.AnimationState())
	assert.Equal(t, 0.9, h.c.Arousal())
}

func TestSendEventAndGesture(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	assert.True(t, h.c.SendEvent("ready", "scene=1"))
	assert.True(t, h.c.SendUserGesture("wave"))

	assert.Equal(t, []protocol.Message{protocol.Event{EventType: "ready", Data: "scene=1"}},
		h.ft.sentOfType(t, protocol.TypeEvent))
	assert.Equal(t, []protocol.Message{protocol.UserGesture{Gesture: "wave"}},
		h.ft.sentOfType(t, protocol.TypeUserGesture))
}

func TestDisconnectObservers(t *testing.T) {
	h := newHarness(t, WithRetry(time.Second, 1))
	h.connect(t)

	var errs []error
	h.c.OnDisconnected(func(err error) { errs = append(errs, err) })

	h.ft.emit(connection.Event{Kind: connection.EventClosed})
	h.c.Tick(frame)
	assert.Equal(t, connection.StateReconnecting, h.c.Connection().State())

	h.c.Tick(time.Second)
	assert.Equal(t, 2, h.ft.opens)
	h.ft.emit(connection.Event{Kind: connection.EventError, Err: errors.New("refused")})
	h.c.Tick(frame)
	h.c.Tick(time.Second)

	assert.Equal(t, connection.StateDisconnected, h.c.Connection().State())
	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], connection.ErrReconnectExhausted)
}

func TestConnectionStateObserver(t *testing.T) {
	h := newHarness(t, WithRetry(time.Second, 1))

	var transitions []string
	h.c.OnConnectionState(func(from, to connection.State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	h.connect(t)
	h.ft.emit(connection.Event{Kind: connection.EventClosed})
	h.c.Tick(frame)
	h.c.Stop()

	assert.Equal(t, []string{
		"disconnected->connecting",
		"connecting->connected",
		"connected->reconnecting",
		"reconnecting->disconnected",
	}, transitions)
}

func TestWeightsObserver(t *testing.T) {
	h := newHarness(t, WithBlendDuration(0))
	h.c.Engine().SetIdleEnabled(false)

	var frames []blend.Weights
	h.c.OnWeights(func(w blend.Weights) { frames = append(frames, w.Clone()) })

	h.c.SetMorphs(map[string]float64{"jawOpen": 0.5})
	h.c.Tick(frame)

	require.Len(t, frames, 1)
	assert.Equal(t, blend.Weights{"jawOpen": 0.5}, frames[0])
}

func TestPostRunsOnNextTick(t *testing.T) {
	h := newHarness(t)

	ran := 0
	require.True(t, h.c.Post(func() { ran++ }))
	assert.Zero(t, ran)

	h.c.Tick(frame)
	assert.Equal(t, 1, ran)

	h.c.Stop()
	assert.False(t, h.c.Post(func() { ran++ }))
	h.c.Stop()
}

func TestPostUnblocksOnStop(t *testing.T) {
	h := newHarness(t, WithQueueSize(1))
	require.True(t, h.c.Post(func() {}))

	result := make(chan bool)
	go func() { result <- h.c.Post(func() {}) }()

	h.c.Stop()
	assert.False(t, <-result)
}

func TestRestartAfterStop(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	connected := 0
	h.c.OnConnected(func() { connected++ })

	h.c.Stop()
	assert.Equal(t, connection.StateDisconnected, h.c.Connection().State())
	assert.False(t, h.c.Post(func() {}))

	h.c.Start(context.Background())
	assert.Equal(t, 2, h.ft.opens)
	h.ft.emit(connection.Event{Kind: connection.EventOpened})
	h.c.Tick(frame)

	assert.Equal(t, connection.StateConnected, h.c.Connection().State())
	assert.Equal(t, 1, connected)
	assert.Len(t, h.ft.sentOfType(t, protocol.TypeRegister), 2)
	assert.True(t, h.c.Post(func() {}))
}

func TestTimerSchedulerPosts(t *testing.T) {
	h := newHarness(t)
	sched := timerScheduler{post: h.c.Post}

	fired := make(chan struct{})
	sched.AfterFunc(time.Millisecond, func() { close(fired) })

	require.Eventually(t, func() bool { return len(h.c.queue) == 1 }, time.Second, time.Millisecond)
	select {
	case <-fired:
		t.Fatal("callback ran off the tick goroutine")
	default:
	}

	h.c.Tick(frame)
	<-fired
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, WithFrameRate(200))

	var mu sync.Mutex
	frames := 0
	h.c.OnWeights(func(blend.Weights) {
		mu.Lock()
		frames++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- h.c.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return frames >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, h.c.Post(func() {}))
}

func TestAnimationStateNames(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "intimate", StateIntimate.String())
	assert.Equal(t, "custom", AnimationState(42).String())

	s, ok := ParseAnimationState(" Talking ")
	assert.True(t, ok)
	assert.Equal(t, StateTalking, s)

	s, ok = ParseAnimationState("sleeping")
	assert.False(t, ok)
	assert.Equal(t, StateCustom, s)

	assert.True(t, StateIdle.IdleActive())
	assert.True(t, StateListening.IdleActive())
	assert.False(t, StateEmotional.IdleActive())
}
