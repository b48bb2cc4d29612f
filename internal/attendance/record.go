package attendance

import (
	"fmt"
	"time"
)

// Transition is an accepted status change. It is created once per accepted
// request and never mutated afterwards.
type Transition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	ActorID   string    `json:"actorId"`
	ActorName string    `json:"actorName"`
	Reason    string    `json:"reason,omitempty"`
}

// Record tracks one patient attendance through its statuses.
//
// Transitions is append-only and in causal order. CurrentStatus always
// equals the To of the last transition, or InitialStatus when there are none.
type Record struct {
	SubjectID     string       `json:"subjectId"`
	CurrentStatus Status       `json:"currentStatus"`
	InitialStatus Status       `json:"initialStatus"`
	Transitions   []Transition `json:"transitions"`
}

// NewRecord creates a record seeded at the given status.
// An empty seed means StatusWaiting.
func NewRecord(subjectID string, seed Status) (Record, error) {
	if seed == "" {
		seed = StatusWaiting
	}
	if !seed.Valid() {
		return Record{}, fmt.Errorf("unknown seed status %q", seed)
	}
	if seed.Terminal() {
		return Record{}, fmt.Errorf("seed status %q is terminal", seed)
	}
	return Record{
		SubjectID:     subjectID,
		CurrentStatus: seed,
		InitialStatus: seed,
		Transitions:   []Transition{},
	}, nil
}

// AllowedNextStatuses is derived from CurrentStatus on every call.
func (r Record) AllowedNextStatuses() []Status {
	return AllowedNext(r.CurrentStatus)
}

// Apply returns a copy of r with t appended. The receiver is not modified,
// so a failed persist leaves the caller's record untouched.
func (r Record) Apply(t Transition) (Record, error) {
	if t.From != r.CurrentStatus {
		return r, fmt.Errorf("transition starts at %s but record is at %s", t.From, r.CurrentStatus)
	}
	if !CanTransition(t.From, t.To) {
		return r, fmt.Errorf("transition %s -> %s is not permitted", t.From, t.To)
	}

	next := r
	next.Transitions = make([]Transition, len(r.Transitions), len(r.Transitions)+1)
	copy(next.Transitions, r.Transitions)
	next.Transitions = append(next.Transitions, t)
	next.CurrentStatus = t.To
	return next, nil
}

// History returns a copy of the transition list.
func (r Record) History() []Transition {
	out := make([]Transition, len(r.Transitions))
	copy(out, r.Transitions)
	return out
}

// Verify checks the history invariants of a record loaded from storage:
// every step is a valid edge, steps chain from the initial status, and
// CurrentStatus matches the last step.
func (r Record) Verify() error {
	if r.SubjectID == "" {
		return fmt.Errorf("record has no subject id")
	}
	if !r.InitialStatus.Valid() {
		return fmt.Errorf("record %s: unknown initial status %q", r.SubjectID, r.InitialStatus)
	}
	at := r.InitialStatus
	for i, t := range r.Transitions {
		if t.From != at {
			return fmt.Errorf("record %s: transition %d starts at %s, expected %s", r.SubjectID, i, t.From, at)
		}
		if !CanTransition(t.From, t.To) {
			return fmt.Errorf("record %s: transition %d (%s -> %s) is not permitted", r.SubjectID, i, t.From, t.To)
		}
		at = t.To
	}
	if r.CurrentStatus != at {
		return fmt.Errorf("record %s: current status %s does not match history (%s)", r.SubjectID, r.CurrentStatus, at)
	}
	return nil
}
