package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/attend/internal/app"
	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/config"
	"github.com/roach88/attend/internal/draft"
	"github.com/roach88/attend/internal/engine"
	"github.com/roach88/attend/internal/testutil"
)

// Harness executes one scenario against a private App.
type Harness struct {
	app      *app.App
	scenario *Scenario
}

// Error codes reported for draft failures. Engine failures report the
// engine's own code.
const (
	CodeDraftNotFound      = "DRAFT_NOT_FOUND"
	CodeInvalidSlot        = "INVALID_SLOT"
	CodeReservedField      = "RESERVED_FIELD"
	CodeIncompatibleSchema = "INCOMPATIBLE_SCHEMA"
	CodeUnknown            = "ERROR"
)

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store with a fixed clock and
// sequential audit ids. The returned error is reserved for failures to run
// at all; unexpected step outcomes and failed assertions are reported in
// Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.Store.Path = ""
	if scenario.Permissions != nil {
		cfg.Permissions = *scenario.Permissions
	}

	a, err := app.New(ctx, cfg,
		app.WithClock(testutil.NewFixedClock(time.Time{}, time.Second)),
		app.WithIDGenerator(testutil.NewSequenceIDs("audit")),
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // keep scenario output clean
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create app: %w", err)
	}
	defer a.Close()

	h := &Harness{app: a, scenario: scenario}
	result := NewResult()

	for i, step := range scenario.Setup {
		ev := h.execute(ctx, "setup", step, result)
		if ev.Outcome != OutcomeOK {
			return nil, fmt.Errorf("setup[%d] %s %s: failed with %s", i, step.Kind(), step.Target(), ev.Outcome)
		}
		h.checkExpect(fmt.Sprintf("setup[%d]", i), step, ev, result)
	}
	for i, step := range scenario.Flow {
		ev := h.execute(ctx, "flow", step, result)
		h.checkExpect(fmt.Sprintf("flow[%d]", i), step, ev, result)
	}

	if err := h.collectState(ctx, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Ctx: ctx, App: a}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute performs one step and records it in the trace.
func (h *Harness) execute(ctx context.Context, phase string, step Step, result *Result) TraceEvent {
	ev := TraceEvent{Phase: phase, Step: step.Kind()}

	var err error
	switch step.Kind() {
	case StepAdmit:
		ev.Subject = step.Admit
		var rec attendance.Record
		rec, err = h.app.Engine.Admit(ctx, engine.AdmitRequest{
			SubjectID:   step.Admit,
			SubjectName: step.Name,
			Seed:        attendance.Status(step.Seed),
			Actor:       h.scenario.Actors[step.As].Actor(),
		})
		if err == nil {
			ev.Status = string(rec.CurrentStatus)
		}

	case StepTransition:
		ev.Subject = step.Transition
		ev.To = step.To
		var rec attendance.Record
		rec, err = h.app.Engine.Transition(ctx, engine.TransitionRequest{
			SubjectID:   step.Transition,
			SubjectName: step.Name,
			To:          attendance.Status(step.To),
			Actor:       h.scenario.Actors[step.As].Actor(),
			Reason:      step.Reason,
			Module:      attendance.Module(step.Module),
		})
		if err == nil {
			ev.Status = string(rec.CurrentStatus)
		}

	case StepSaveDraft:
		ev.Slot = step.SaveDraft
		var ack draft.Ack
		ack, err = h.app.Drafts.Save(ctx, step.SaveDraft, draft.Payload(step.Payload))
		if err == nil {
			saved := ack.Saved
			ev.Saved = &saved
		}

	case StepLoadDraft:
		ev.Slot = step.LoadDraft
		_, err = h.app.Drafts.Load(ctx, step.LoadDraft)

	case StepClearDraft:
		ev.Slot = step.ClearDraft
		err = h.app.Drafts.Clear(ctx, step.ClearDraft)
	}

	ev.Outcome = outcomeOf(err)
	result.AddTrace(ev)
	return ev
}

// checkExpect compares a step's outcome against its expect clause.
func (h *Harness) checkExpect(label string, step Step, ev TraceEvent, result *Result) {
	want := Expect{}
	if step.Expect != nil {
		want = *step.Expect
	}
	prefix := fmt.Sprintf("%s %s %s", label, ev.Step, step.Target())

	wantOutcome := OutcomeOK
	if want.Error != "" {
		wantOutcome = want.Error
	}
	if ev.Outcome != wantOutcome {
		result.AddError(fmt.Sprintf("%s: expected outcome %s, got %s", prefix, wantOutcome, ev.Outcome))
		return
	}
	if want.Status != "" && ev.Status != want.Status {
		result.AddError(fmt.Sprintf("%s: expected status %s, got %s", prefix, want.Status, ev.Status))
	}
	if want.Saved != nil && (ev.Saved == nil || *ev.Saved != *want.Saved) {
		got := "nothing"
		if ev.Saved != nil {
			got = fmt.Sprint(*ev.Saved)
		}
		result.AddError(fmt.Sprintf("%s: expected saved=%t, got %s", prefix, *want.Saved, got))
	}
}

// collectState fills in the final subject statuses and the audit log.
func (h *Harness) collectState(ctx context.Context, result *Result) error {
	ids, err := h.app.Engine.Subjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subjects: %w", err)
	}
	for _, id := range ids {
		status, err := h.app.Engine.CurrentStatus(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read subject %s: %w", id, err)
		}
		result.Subjects[id] = string(status)
	}

	for _, e := range h.app.Audit.Entries() {
		result.Audit = append(result.Audit, AuditLine{
			Action:   e.Action,
			Module:   string(e.Module),
			Severity: string(e.Severity),
			Subject:  e.SubjectID,
		})
	}
	return nil
}

// outcomeOf maps a step error to the code recorded in the trace.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case errors.Is(err, draft.ErrNotFound):
		return CodeDraftNotFound
	case errors.Is(err, draft.ErrInvalidSlot):
		return CodeInvalidSlot
	case errors.Is(err, draft.ErrReservedField):
		return CodeReservedField
	case errors.Is(err, draft.ErrIncompatibleSchema):
		return CodeIncompatibleSchema
	}
	return CodeUnknown
}
