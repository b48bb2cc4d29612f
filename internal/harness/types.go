package harness

// Step kinds as they appear in traces.
const (
	StepAdmit      = "admit"
	StepTransition = "transition"
	StepSaveDraft  = "save_draft"
	StepLoadDraft  = "load_draft"
	StepClearDraft = "clear_draft"
)

// OutcomeOK is the outcome of a step that succeeded. Failed steps carry
// the error code instead.
const OutcomeOK = "ok"

// TraceEvent is one executed step.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Phase   string `json:"phase"` // "setup" or "flow"
	Step    string `json:"step"`
	Subject string `json:"subject,omitempty"`
	Slot    string `json:"slot,omitempty"`
	To      string `json:"to,omitempty"`
	Outcome string `json:"outcome"`
	// Status is the subject's status after a successful admit or transition.
	Status string `json:"status,omitempty"`
	// Saved reports whether a draft save was kept.
	Saved *bool `json:"saved,omitempty"`
}

// AuditLine is the part of an audit entry that is stable across runs.
type AuditLine struct {
	Action   string `json:"action"`
	Module   string `json:"module"`
	Severity string `json:"severity"`
	Subject  string `json:"subject,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	// Trace contains the setup and flow steps in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Subjects maps every admitted subject to its final status.
	Subjects map[string]string `json:"subjects"`

	// Audit is the retained audit log, oldest first.
	Audit []AuditLine `json:"audit"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Subjects: make(map[string]string),
		Audit:    []AuditLine{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev, numbering it after the events already recorded.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
