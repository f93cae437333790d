package server

// State is the lifecycle state of the UDP server
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func stateNames() []string {
	return []string{
		StateStopped.String(),
		StateStarting.String(),
		StateRunning.String(),
		StateStopping.String(),
	}
}
