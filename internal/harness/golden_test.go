package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Marshal(t *testing.T) {
	result := NewResult()
	saved := false
	result.AddTrace(TraceEvent{Phase: "flow", Step: StepSaveDraft, Slot: "triage", Outcome: OutcomeOK, Saved: &saved})
	result.AddTrace(TraceEvent{Phase: "flow", Step: StepAdmit, Subject: "p1", Outcome: OutcomeOK, Status: "waiting"})
	result.Subjects["p1"] = "waiting"
	result.Audit = append(result.Audit,
		AuditLine{Action: "Patient admitted", Module: "attendance", Severity: "info", Subject: "p1"},
		AuditLine{Action: "Draft restored", Module: "system", Severity: "info"},
	)

	snap := NewSnapshot("snapshot_shape", result)
	data, err := snap.Marshal()
	require.NoError(t, err)
	assert.Equal(t,
		`{"audit":[{"action":"Patient admitted","module":"attendance","severity":"info","subject":"p1"},`+
			`{"action":"Draft restored","module":"system","severity":"info"}],`+
			`"scenario_name":"snapshot_shape","subjects":{"p1":"waiting"},`+
			`"trace":[{"outcome":"ok","phase":"flow","saved":false,"seq":1,"slot":"triage","step":"save_draft"},`+
			`{"outcome":"ok","phase":"flow","seq":2,"status":"waiting","step":"admit","subject":"p1"}]}`,
		string(data))
}

func TestAssertGolden_ExistingResult(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/permission_gate.yaml")
	require.NoError(t, err)
	result, err := Run(s)
	require.NoError(t, err)

	require.NoError(t, AssertGolden(t, "permission_gate", result))
}
