package attendance

import (
	"fmt"
	"sort"
)

// Status is the clinical state of a patient attendance.
type Status string

const (
	StatusWaiting          Status = "waiting"
	StatusInitialListening Status = "initial-listening"
	StatusInService        Status = "in-service"
	StatusPreService       Status = "pre-service"
	StatusVaccination      Status = "vaccination"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusDidNotWait       Status = "did-not-wait"
)

// AllStatuses lists every recognised status in declaration order.
var AllStatuses = []Status{
	StatusWaiting,
	StatusInitialListening,
	StatusInService,
	StatusPreService,
	StatusVaccination,
	StatusCompleted,
	StatusCancelled,
	StatusDidNotWait,
}

// validTransitions is the single source of truth for the state machine.
// Terminal statuses map to an empty set. No status lists itself.
var validTransitions = map[Status][]Status{
	StatusWaiting: {
		StatusInitialListening,
		StatusInService,
		StatusVaccination,
		StatusCancelled,
		StatusDidNotWait,
	},
	StatusInitialListening: {
		StatusInService,
		StatusVaccination,
		StatusCompleted,
		StatusCancelled,
	},
	StatusInService: {
		StatusCompleted,
		StatusCancelled,
	},
	StatusPreService: {
		StatusInService,
		StatusVaccination,
		StatusCancelled,
	},
	StatusVaccination: {
		StatusCompleted,
		StatusCancelled,
	},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusDidNotWait: {},
}

// ParseStatus converts a raw string into a Status.
// Returns an error if the value is not a recognised status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown attendance status %q", raw)
	}
	return s, nil
}

// Valid reports whether s is one of the recognised statuses.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	next, ok := validTransitions[s]
	return ok && len(next) == 0
}

func (s Status) String() string {
	return string(s)
}

// ValidTransitions returns a copy of the permitted successors of from.
// Unknown statuses return nil.
func ValidTransitions(from Status) []Status {
	next, ok := validTransitions[from]
	if !ok {
		return nil
	}
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// AllowedNext returns the successors of from sorted by name.
// The order is stable so callers can render or compare it directly.
func AllowedNext(from Status) []Status {
	out := ValidTransitions(from)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanTransition reports whether to is a permitted successor of from.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanEnterInitialListening reports whether a patient in status s may be
// moved into initial listening.
func CanEnterInitialListening(s Status) bool {
	return CanTransition(s, StatusInitialListening)
}

// CanStartAttendance reports whether a patient in status s may start the
// main attendance (in-service).
func CanStartAttendance(s Status) bool {
	return CanTransition(s, StatusInService)
}
