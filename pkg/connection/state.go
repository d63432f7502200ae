// Package connection manages the network session between an avatar and its
// command source: connect, register handshake, and bounded fixed-delay
// reconnection.
package connection

// State is the connection lifecycle state.
type State int32

const (
	// StateDisconnected means no session is open and none is pending.
	StateDisconnected State = iota

	// StateConnecting means a session open is in flight.
	StateConnecting

	// StateConnected means the session is open and registered.
	StateConnected

	// StateReconnecting means the session was lost and a retry is armed.
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// EventKind identifies a transport event.
type EventKind int

const (
	// EventOpened reports a completed handshake.
	EventOpened EventKind = iota

	// EventClosed reports that the peer or the network closed the session.
	EventClosed

	// EventError reports a failed open or a broken session.
	EventError

	// EventMessage carries one inbound text frame.
	EventMessage
)

// String returns a human-readable event name.
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is a transport notification.
type Event struct {
	Kind EventKind
	Data []byte // EventMessage only
	Err  error  // EventClosed and EventError; may be nil for a clean close
}

// EventSink receives transport events. It may be called from any goroutine.
type EventSink func(Event)
