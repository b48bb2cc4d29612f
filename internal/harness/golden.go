package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/attend/internal/canonical"
)

// TraceSnapshot captures everything about a run that golden files compare:
// the step trace, the final statuses and the retained audit log.
type TraceSnapshot struct {
	ScenarioName string            `json:"scenario_name"`
	Trace        []TraceEvent      `json:"trace"`
	Subjects     map[string]string `json:"subjects"`
	Audit        []AuditLine       `json:"audit"`
}

// NewSnapshot builds the snapshot for result.
func NewSnapshot(scenarioName string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Subjects:     result.Subjects,
		Audit:        result.Audit,
	}
}

// toCanonicalMap converts the snapshot to JSON-shaped values, leaving out
// empty optional fields.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":     ev.Seq,
			"phase":   ev.Phase,
			"step":    ev.Step,
			"outcome": ev.Outcome,
		}
		if ev.Subject != "" {
			m["subject"] = ev.Subject
		}
		if ev.Slot != "" {
			m["slot"] = ev.Slot
		}
		if ev.To != "" {
			m["to"] = ev.To
		}
		if ev.Status != "" {
			m["status"] = ev.Status
		}
		if ev.Saved != nil {
			m["saved"] = *ev.Saved
		}
		trace[i] = m
	}

	subjects := make(map[string]any, len(s.Subjects))
	for id, status := range s.Subjects {
		subjects[id] = status
	}

	auditLines := make([]any, len(s.Audit))
	for i, l := range s.Audit {
		m := map[string]any{
			"action":   l.Action,
			"module":   l.Module,
			"severity": l.Severity,
		}
		if l.Subject != "" {
			m["subject"] = l.Subject
		}
		auditLines[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"subjects":      subjects,
		"audit":         auditLines,
	}
}

// Marshal renders the snapshot as canonical JSON, the golden file format.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return canonical.Marshal(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := NewSnapshot(scenarioName, result)
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
