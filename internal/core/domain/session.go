package domain

import "github.com/google/uuid"

type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnReconnecting ConnectionState = "reconnecting"
	ConnClosed       ConnectionState = "closed"
)

// StreamKey addresses one progress subscription. The correlation id is
// shared with the synchronous upload; the bearer token is optional and
// its absence permits anonymous progress tracking.
type StreamKey struct {
	CorrelationID string
	Token         string
}

// NewCorrelationID mints the client-side id linking a synchronous upload
// to its stream subscription.
func NewCorrelationID() string {
	return uuid.NewString()
}

// NewTransportSessionID mints the per-connection sub-session id. A
// reconnect reuses the correlation id but gets a fresh transport id.
func NewTransportSessionID() string {
	return uuid.NewString()
}

// StreamEvent is one item on a stream subscription's event channel:
// either a parsed protocol frame or a connection-state transition.
type StreamEvent struct {
	Frame *Frame
	State *StateChange
}

type StateChange struct {
	State   ConnectionState
	Attempt int
	Err     error
}

func FrameEvent(f Frame) StreamEvent {
	return StreamEvent{Frame: &f}
}

func StateEvent(state ConnectionState, attempt int, err error) StreamEvent {
	return StreamEvent{State: &StateChange{State: state, Attempt: attempt, Err: err}}
}
