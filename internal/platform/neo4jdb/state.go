package neo4jdb

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Phase string

const (
	PhaseConfig    Phase = "config"
	PhaseDNS       Phase = "dns"
	PhaseTCP       Phase = "tcp"
	PhaseHandshake Phase = "handshake"
	PhaseQuery     Phase = "query"
)
