package models

import "fmt"

// Outcome is the explicit result of a resolve or apply step.
type Outcome int

const (
	Resolved Outcome = iota
	NotFound
	Unauthorized
	TransientError
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case NotFound:
		return "not_found"
	case Unauthorized:
		return "unauthorized"
	case TransientError:
		return "transient_error"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// OK reports whether the step produced a usable value.
func (o Outcome) OK() bool { return o == Resolved }

// ParseOutcome is the inverse of [Outcome.String].
func ParseOutcome(s string) (Outcome, error) {
	for o := Resolved; o <= Skipped; o++ {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}
