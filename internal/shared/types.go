package shared

// shared types across the services
// 1st: subsystem lifecycle state used for coordinated shutdown
// 2nd: the reporter interface the TCP manager exposes to the other subsystems

type SubsystemState int

const (
	Inactive SubsystemState = iota
	Active
)

func (s SubsystemState) String() string {
	switch s {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	default:
		return "unknown"
	}
}

func (s SubsystemState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// subsystem names used as keys in the status table
const (
	SubsystemListener  = "client_listener"
	SubsystemAnnouncer = "announcer"
)

// StatusReporter receives lifecycle transitions of a subsystem.
// The connection manager implements it so the status table and the
// client set sit behind the same lock.
type StatusReporter interface {
	SetStatus(subsystem string, state SubsystemState)
}
