package domain

// SessionState is the lifecycle position of one viewer's stream.
type SessionState int

const (
	SessionInit SessionState = iota
	SessionStreaming
	SessionDisconnected
	SessionExhausted
	SessionErrored
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionInit:
		return "init"
	case SessionStreaming:
		return "streaming"
	case SessionDisconnected:
		return "disconnected"
	case SessionExhausted:
		return "exhausted"
	case SessionErrored:
		return "errored"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is one of the three exit causes.
func (s SessionState) IsTerminal() bool {
	return s == SessionDisconnected || s == SessionExhausted || s == SessionErrored
}
