package widget

import "time"

type State int

const (
	NoSession State = iota
	Active
	Expired
	RatingPending
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case Active:
		return "active"
	case Expired:
		return "expired"
	case RatingPending:
		return "rating_pending"
	default:
		return "unknown"
	}
}

// IsValid reports whether a session last active at lastActivityAt may still
// be resumed at now.
func IsValid(lastActivityAt, now time.Time, timeout time.Duration) bool {
	if lastActivityAt.IsZero() {
		return false
	}
	return now.Sub(lastActivityAt) < timeout
}
