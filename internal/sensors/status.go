package sensors

// Status describes real-vehicle sensor availability.
type Status int

const (
	StatusInactive Status = iota
	StatusWaiting
	StatusActive
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusActive:
		return "active"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "inactive"
	}
}
