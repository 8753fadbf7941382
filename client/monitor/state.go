package monitor

// State is the lifecycle state of a Monitor.
type State int32

const (
	// Idle is between scans (or before the first one).
	Idle State = iota
	// Scanning means a ping is in flight.
	Scanning
	// Stopped is terminal.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}
