package core

// Status is the lifecycle state of a job inside the queue engine.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var validTransitions = map[Status][]Status{
	StatusWaiting:   {StatusActive},
	StatusDelayed:   {StatusWaiting},
	StatusActive:    {StatusCompleted, StatusDelayed, StatusWaiting, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// IsValidTransition checks if a status transition is allowed.
func IsValidTransition(from, to Status) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the engine will never run the job again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	if _, ok := validTransitions[st]; ok {
		return st, true
	}
	return "", false
}
