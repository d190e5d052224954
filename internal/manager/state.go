package manager

// State is the supervisor's state machine position.
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

// StopMode says how a successful stop ended.
type StopMode string

const (
	StopClean             StopMode = "clean"
	StopForcedTimeout     StopMode = "forced_timeout"
	StopForcedRemoteError StopMode = "forced_remote_error"
)

// Forced reports whether the server had to be killed.
func (m StopMode) Forced() bool { return m != StopClean }

// StopOutcome describes a successful stop. Both forced modes are degraded
// successes; Cause holds the remote error or the timeout.
type StopOutcome struct {
	Mode  StopMode
	Cause error
}

// RestartResult describes a successful restart. Stopped is nil when the
// server was not running beforehand.
type RestartResult struct {
	Stopped *StopOutcome
	PID     int
}

// Liveness is the user-facing Online/Offline status.
type Liveness string

const (
	Online  Liveness = "Online"
	Offline Liveness = "Offline"
)

// Status is a point-in-time view of the server and host memory.
type Status struct {
	State           Liveness
	PID             int
	ProcessRSSBytes uint64
	HostUsedBytes   uint64
	HostTotalBytes  uint64
}
