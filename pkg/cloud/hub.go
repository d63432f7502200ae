// Package cloud provides the command-source hub that avatars connect to.
//
// Avatars dial /ws/avatar (or /ws/avatar/:id) and register. Operators push
// emotion, morph, animation, lip-sync, arousal and gaze commands through the
// REST API under /api/avatars.
package cloud

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teslashibe/go-avatar/pkg/metrics"
	"github.com/teslashibe/go-avatar/pkg/protocol"
)

// writeWait bounds every websocket write to an avatar.
const writeWait = 10 * time.Second

// ErrAvatarNotConnected is returned when a command targets an unknown avatar.
var ErrAvatarNotConnected = errors.New("cloud: avatar not connected")

// AvatarConnection represents a connected avatar and what it last reported.
type AvatarConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu           sync.Mutex
	lastSeen     time.Time
	registered   bool
	clientType   string
	version      string
	capabilities []string
	animation    string
	emotion      string
	arousal      float64
	lastEvent    string
	lastGesture  string
}

// Send encodes msg and writes it to the avatar.
func (a *AvatarConnection) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return a.Conn.WriteMessage(websocket.TextMessage, data)
}

// Info returns a snapshot of the avatar's reported state.
func (a *AvatarConnection) Info() AvatarInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AvatarInfo{
		ID:           a.ID,
		Connected:    a.Connected,
		LastSeen:     a.lastSeen,
		Registered:   a.registered,
		ClientType:   a.clientType,
		Version:      a.version,
		Capabilities: append([]string(nil), a.capabilities...),
		Animation:    a.animation,
		Emotion:      a.emotion,
		Arousal:      a.arousal,
		LastEvent:    a.lastEvent,
		LastGesture:  a.lastGesture,
	}
}

// AvatarInfo contains info about a connected avatar.
type AvatarInfo struct {
	ID           string    `json:"id"`
	Connected    time.Time `json:"connected"`
	LastSeen     time.Time `json:"last_seen"`
	Registered   bool      `json:"registered"`
	ClientType   string    `json:"client_type,omitempty"`
	Version      string    `json:"version,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Animation    string    `json:"animation,omitempty"`
	Emotion      string    `json:"emotion,omitempty"`
	Arousal      float64   `json:"arousal"`
	LastEvent    string    `json:"last_event,omitempty"`
	LastGesture  string    `json:"last_gesture,omitempty"`
}

// Hub manages WebSocket connections from avatars.
type Hub struct {
	mu      sync.RWMutex
	avatars map[string]*AvatarConnection
	log     zerolog.Logger
	metrics *metrics.Metrics

	// Callbacks
	onRegister    func(avatarID string, reg protocol.Register)
	onStateChange func(avatarID string, state protocol.StateChange)
	onArousal     func(avatarID string, arousal protocol.ArousalState)
	onEvent       func(avatarID string, event protocol.Event)
	onGesture     func(avatarID string, gesture protocol.UserGesture)

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	decodeErrors     atomic.Uint64
}

// NewHub creates a new avatar hub. m may be nil.
func NewHub(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		avatars: make(map[string]*AvatarConnection),
		log:     logger.With().Str("component", "hub").Logger(),
		metrics: m,
	}
}

// OnRegister sets the callback for avatar registrations.
func (h *Hub) OnRegister(callback func(avatarID string, reg protocol.Register)) {
	h.mu.Lock()
	h.onRegister = callback
	h.mu.Unlock()
}

// OnStateChange sets the callback for animation state reports.
func (h *Hub) OnStateChange(callback func(avatarID string, state protocol.StateChange)) {
	h.mu.Lock()
	h.onStateChange = callback
	h.mu.Unlock()
}

// OnArousal sets the callback for arousal level echoes.
func (h *Hub) OnArousal(callback func(avatarID string, arousal protocol.ArousalState)) {
	h.mu.Lock()
	h.onArousal = callback
	h.mu.Unlock()
}

// OnEvent sets the callback for free-form avatar events.
func (h *Hub) OnEvent(callback func(avatarID string, event protocol.Event)) {
	h.mu.Lock()
	h.onEvent = callback
	h.mu.Unlock()
}

// OnGesture sets the callback for user gestures.
func (h *Hub) OnGesture(callback func(avatarID string, gesture protocol.UserGesture)) {
	h.mu.Lock()
	h.onGesture = callback
	h.mu.Unlock()
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/avatar", websocket.New(h.handleAvatar))
	app.Get("/ws/avatar/:id", websocket.New(h.handleAvatar))
}

// handleAvatar serves one avatar connection until it closes.
func (h *Hub) handleAvatar(c *websocket.Conn) {
	avatarID := c.Params("id")
	if avatarID == "" {
		avatarID = uuid.NewString()
	}

	now := time.Now()
	avatar := &AvatarConnection{
		ID:        avatarID,
		Conn:      c,
		Connected: now,
		lastSeen:  now,
	}

	h.mu.Lock()
	if prev, ok := h.avatars[avatarID]; ok {
		h.log.Warn().Str("avatar", avatarID).Msg("replacing existing connection")
		_ = prev.Conn.Close()
	}
	h.avatars[avatarID] = avatar
	count := len(h.avatars)
	h.mu.Unlock()

	h.metrics.SetHubAvatars(count)
	h.log.Info().Str("avatar", avatarID).Int("total", count).Msg("avatar connected")

	defer func() {
		h.mu.Lock()
		if h.avatars[avatarID] == avatar {
			delete(h.avatars, avatarID)
		}
		count := len(h.avatars)
		h.mu.Unlock()

		h.metrics.SetHubAvatars(count)
		h.log.Info().Str("avatar", avatarID).Int("total", count).Msg("avatar disconnected")
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn().Err(err).Str("avatar", avatarID).Msg("read error")
			}
			return
		}

		avatar.mu.Lock()
		avatar.lastSeen = time.Now()
		avatar.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(avatar, data)
	}
}

// handleMessage records an avatar report and fires the matching callback.
func (h *Hub) handleMessage(avatar *AvatarConnection, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		h.decodeErrors.Add(1)
		h.log.Debug().Err(err).Str("avatar", avatar.ID).Msg("discarding message")
		return
	}
	h.metrics.MessageReceived(string(msg.Type()))

	h.mu.RLock()
	registerCb := h.onRegister
	stateCb := h.onStateChange
	arousalCb := h.onArousal
	eventCb := h.onEvent
	gestureCb := h.onGesture
	h.mu.RUnlock()

	avatar.mu.Lock()
	switch m := msg.(type) {
	case protocol.Register:
		avatar.registered = true
		avatar.clientType = m.ClientType
		avatar.version = m.Version
		avatar.capabilities = m.Capabilities
	case protocol.StateChange:
		avatar.animation = m.Animation
		avatar.emotion = m.Emotion
	case protocol.ArousalState:
		avatar.arousal = m.Level
	case protocol.Event:
		avatar.lastEvent = m.EventType
	case protocol.UserGesture:
		avatar.lastGesture = m.Gesture
	}
	avatar.mu.Unlock()

	switch m := msg.(type) {
	case protocol.Register:
		h.log.Info().
			Str("avatar", avatar.ID).
			Str("client_type", m.ClientType).
			Str("version", m.Version).
			Strs("capabilities", m.Capabilities).
			Msg("avatar registered")
		if registerCb != nil {
			registerCb(avatar.ID, m)
		}
	case protocol.StateChange:
		if stateCb != nil {
			stateCb(avatar.ID, m)
		}
	case protocol.ArousalState:
		if arousalCb != nil {
			arousalCb(avatar.ID, m)
		}
	case protocol.Event:
		if eventCb != nil {
			eventCb(avatar.ID, m)
		}
	case protocol.UserGesture:
		if gestureCb != nil {
			gestureCb(avatar.ID, m)
		}
	default:
		h.log.Debug().Str("avatar", avatar.ID).Str("type", string(msg.Type())).Msg("ignoring command echo")
	}
}

// =============================================================================
// Commands
// =============================================================================

// SendEmotion asks an avatar to blend to an emotion preset.
func (h *Hub) SendEmotion(avatarID, emotion string, intensity float64) error {
	return h.Send(avatarID, protocol.NewEmotion(emotion, intensity))
}

// SendMorph asks an avatar to blend to explicit channel weights.
func (h *Hub) SendMorph(avatarID string, targets map[string]float64) error {
	return h.Send(avatarID, protocol.NewMorph(targets))
}

// SendAnimation triggers a named animation on an avatar.
func (h *Hub) SendAnimation(avatarID, animation string) error {
	return h.Send(avatarID, protocol.Animation{Animation: animation})
}

// SendLipSync replaces an avatar's viseme track.
func (h *Hub) SendLipSync(avatarID string, frames []protocol.LipSyncFrame) error {
	return h.Send(avatarID, protocol.NewLipSync(frames...))
}

// SendArousal sets an avatar's arousal level.
func (h *Hub) SendArousal(avatarID string, level float64) error {
	return h.Send(avatarID, protocol.Arousal{Level: level})
}

// SendLookAt sets an avatar's gaze target.
func (h *Hub) SendLookAt(avatarID string, target protocol.Vector) error {
	return h.Send(avatarID, protocol.LookAt{Target: target})
}

// Send writes msg to one avatar.
func (h *Hub) Send(avatarID string, msg protocol.Message) error {
	h.mu.RLock()
	avatar, ok := h.avatars[avatarID]
	h.mu.RUnlock()

	if !ok {
		return ErrAvatarNotConnected
	}

	if err := avatar.Send(msg); err != nil {
		return err
	}
	h.messagesSent.Add(1)
	h.metrics.HubCommand(string(msg.Type()))
	return nil
}

// Broadcast sends msg to all connected avatars and returns how many it reached.
func (h *Hub) Broadcast(msg protocol.Message) int {
	sent := 0
	for _, avatar := range h.GetAvatars() {
		if err := avatar.Send(msg); err != nil {
			h.log.Warn().Err(err).Str("avatar", avatar.ID).Msg("broadcast failed")
			continue
		}
		sent++
		h.messagesSent.Add(1)
		h.metrics.HubCommand(string(msg.Type()))
	}
	return sent
}

// =============================================================================
// Queries
// =============================================================================

// GetAvatar returns an avatar connection by ID
func (h *Hub) GetAvatar(avatarID string) *AvatarConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.avatars[avatarID]
}

// GetAvatars returns all connected avatars
func (h *Hub) GetAvatars() []*AvatarConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	avatars := make([]*AvatarConnection, 0, len(h.avatars))
	for _, a := range h.avatars {
		avatars = append(avatars, a)
	}
	return avatars
}

// AvatarCount returns the number of connected avatars
func (h *Hub) AvatarCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.avatars)
}

// GetAvatarInfos returns info about all connected avatars
func (h *Hub) GetAvatarInfos() []AvatarInfo {
	avatars := h.GetAvatars()
	infos := make([]AvatarInfo, 0, len(avatars))
	for _, a := range avatars {
		infos = append(infos, a.Info())
	}
	return infos
}

// Stats contains hub statistics
type Stats struct {
	AvatarCount      int    `json:"avatar_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	DecodeErrors     uint64 `json:"decode_errors"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		AvatarCount:      h.AvatarCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		DecodeErrors:     h.decodeErrors.Load(),
	}
}
