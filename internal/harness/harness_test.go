package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, yaml string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return s
}

func TestRun_Fixtures(t *testing.T) {
	for _, name := range []string{"triage_to_vaccination", "permission_gate"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_TraceAndState(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/triage_to_vaccination.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	require.Len(t, result.Trace, 9)
	assert.Equal(t, TraceEvent{
		Seq: 3, Phase: "flow", Step: StepTransition, Subject: "p1", To: "waiting", Outcome: "INVALID_TRANSITION",
	}, result.Trace[2])
	assert.Equal(t, map[string]string{"p1": "completed"}, result.Subjects)
	require.Len(t, result.Audit, 4)
	assert.Equal(t, AuditLine{Action: "Patient admitted", Module: "attendance", Severity: "info", Subject: "p1"}, result.Audit[0])
}

func TestRun_IsDeterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/permission_gate.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a := NewSnapshot(s.Name, first)
	b := NewSnapshot(s.Name, second)
	da, err := a.Marshal()
	require.NoError(t, err)
	db, err := b.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(da), string(db))
}

func TestRun_UnexpectedOutcomes(t *testing.T) {
	s := mustParse(t, `
name: wrong_expectations
description: "Every expectation here is wrong"
actors:
  nurse: { id: u1, name: Ana Souza }
setup:
  - admit: p1
    as: nurse
flow:
  - transition: p1
    to: completed
    as: nurse
  - transition: p1
    to: in-service
    as: nurse
    expect:
      error: INVALID_TRANSITION
  - transition: p1
    to: completed
    as: nurse
    expect:
      status: cancelled
  - save_draft: triage
    payload: { complaint: "" }
    expect:
      saved: true
assertions:
  - type: final_status
    subject: p1
    status: completed
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "flow[0] transition p1: expected outcome ok, got INVALID_TRANSITION")
	assert.Contains(t, result.Errors[1], "flow[1] transition p1: expected outcome INVALID_TRANSITION, got ok")
	assert.Contains(t, result.Errors[2], "expected status cancelled, got completed")
	assert.Contains(t, result.Errors[3], "expected saved=true, got false")
}

func TestRun_FailedAssertions(t *testing.T) {
	s := mustParse(t, `
name: failed_assertions
description: "Every assertion here fails"
actors:
  nurse: { id: u1, name: Ana Souza }
flow:
  - admit: p1
    as: nurse
assertions:
  - type: final_status
    subject: p1
    status: completed
  - type: final_status
    subject: p9
    status: waiting
  - type: history_length
    subject: p1
    count: 2
  - type: audit_contains
    action: Patient discharged
  - type: audit_count
    count: 3
  - type: draft_present
    slot: triage
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "Expected: p1 in status completed")
	assert.Contains(t, result.Errors[0], "Actual: waiting")
	assert.Contains(t, result.Errors[1], "NOT_FOUND")
	assert.Contains(t, result.Errors[2], "Actual: 0 transitions")
	assert.Contains(t, result.Errors[3], `matching entries ["Patient admitted"]`)
	assert.Contains(t, result.Errors[4], "Actual: 1 audit entries")
	assert.Contains(t, result.Errors[5], "Actual: draft triage absent")
	assert.Contains(t, result.Errors[5], "[1] admit p1")
}

func TestRun_SetupFailureAborts(t *testing.T) {
	s := mustParse(t, `
name: broken_setup
description: "Setup admits the same patient twice"
actors:
  nurse: { id: u1, name: Ana Souza }
setup:
  - admit: p1
    as: nurse
  - admit: p1
    as: nurse
flow:
  - clear_draft: triage
assertions:
  - type: draft_absent
    slot: triage
`)
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup[1] admit p1: failed with ALREADY_ADMITTED")
}

func TestRun_BadPermissions(t *testing.T) {
	s := mustParse(t, `
name: bad_permissions
description: "Rule pattern does not compile"
permissions:
  rules:
    - action: "["
flow:
  - clear_draft: triage
assertions:
  - type: draft_absent
    slot: triage
`)
	_, err := Run(s)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to create app"))
}

func TestRun_DraftOutcomes(t *testing.T) {
	s := mustParse(t, `
name: draft_outcomes
description: "Draft failures are reported by code"
flow:
  - save_draft: " "
    payload: { a: 1 }
    expect:
      error: INVALID_SLOT
  - save_draft: triage
    payload: { savedAt: "2026-01-01" }
    expect:
      error: RESERVED_FIELD
  - save_draft: triage
    payload: { temperature: 0 }
    expect:
      saved: true
  - load_draft: triage
  - clear_draft: triage
  - load_draft: triage
    expect:
      error: DRAFT_NOT_FOUND
assertions:
  - type: draft_absent
    slot: triage
  - type: audit_count
    count: 0
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Subjects)
	assert.Empty(t, result.Audit)
}
