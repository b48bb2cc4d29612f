package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/attend/internal/app"
	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/audit"
	"github.com/roach88/attend/internal/draft"
)

// AssertionContext gives assertions access to the state a scenario left
// behind.
type AssertionContext struct {
	Ctx context.Context
	App *app.App
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			target := ev.Subject
			if target == "" {
				target = ev.Slot
			}
			fmt.Fprintf(&buf, "  [%d] %s %s %s -> %s\n", ev.Seq, ev.Step, target, ev.To, ev.Outcome)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertFinalStatus:
		return assertFinalStatus(result, a, actx)
	case AssertHistoryLength:
		return assertHistoryLength(result, a, actx)
	case AssertAuditContains:
		return assertAuditContains(result, a, actx)
	case AssertAuditCount:
		return assertAuditCount(result, a, actx)
	case AssertDraftPresent, AssertDraftAbsent:
		return assertDraft(result, a, actx)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertFinalStatus(result *Result, a Assertion, actx *AssertionContext) error {
	status, err := actx.App.Engine.CurrentStatus(actx.Ctx, a.Subject)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalStatus,
			Expected: fmt.Sprintf("%s in status %s", a.Subject, a.Status),
			Actual:   err.Error(),
			Trace:    result.Trace,
		}
	}
	if string(status) != a.Status {
		return &AssertionError{
			Type:     AssertFinalStatus,
			Expected: fmt.Sprintf("%s in status %s", a.Subject, a.Status),
			Actual:   string(status),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertHistoryLength(result *Result, a Assertion, actx *AssertionContext) error {
	history, err := actx.App.Engine.History(actx.Ctx, a.Subject)
	if err != nil {
		return &AssertionError{
			Type:     AssertHistoryLength,
			Expected: fmt.Sprintf("%d transitions for %s", a.Count, a.Subject),
			Actual:   err.Error(),
			Trace:    result.Trace,
		}
	}
	if len(history) != a.Count {
		return &AssertionError{
			Type:     AssertHistoryLength,
			Expected: fmt.Sprintf("%d transitions for %s", a.Count, a.Subject),
			Actual:   fmt.Sprintf("%d transitions", len(history)),
			Trace:    result.Trace,
		}
	}
	return nil
}

func auditFilter(a Assertion) audit.Filter {
	return audit.Filter{
		Module:    attendance.Module(a.Module),
		Severity:  audit.Severity(a.Severity),
		SubjectID: a.Subject,
	}
}

func assertAuditContains(result *Result, a Assertion, actx *AssertionContext) error {
	entries := actx.App.Audit.Query(auditFilter(a))
	for _, e := range entries {
		if e.Action == a.Action {
			return nil
		}
	}
	actions := make([]string, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	return &AssertionError{
		Type:     AssertAuditContains,
		Expected: fmt.Sprintf("audit entry %q", a.Action),
		Actual:   fmt.Sprintf("matching entries %q", actions),
		Trace:    result.Trace,
	}
}

func assertAuditCount(result *Result, a Assertion, actx *AssertionContext) error {
	n := len(actx.App.Audit.Query(auditFilter(a)))
	if n != a.Count {
		return &AssertionError{
			Type:     AssertAuditCount,
			Expected: fmt.Sprintf("%d audit entries", a.Count),
			Actual:   fmt.Sprintf("%d audit entries", n),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertDraft(result *Result, a Assertion, actx *AssertionContext) error {
	_, err := actx.App.Drafts.Load(actx.Ctx, a.Slot)
	present := err == nil
	if err != nil && !errors.Is(err, draft.ErrNotFound) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("slot %s readable", a.Slot),
			Actual:   err.Error(),
			Trace:    result.Trace,
		}
	}

	want := a.Type == AssertDraftPresent
	if present != want {
		state := map[bool]string{true: "present", false: "absent"}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("draft %s %s", a.Slot, state[want]),
			Actual:   fmt.Sprintf("draft %s %s", a.Slot, state[present]),
			Trace:    result.Trace,
		}
	}
	return nil
}
