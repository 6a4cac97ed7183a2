package client

// -----------------------------------------------------------------------------
// Connection State
// -----------------------------------------------------------------------------

// ConnState is the agent-side view of the push transport.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

// -----------------------------------------------------------------------------

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}
