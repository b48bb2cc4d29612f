package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/store"
	"github.com/roach88/attend/internal/testutil"
)

func seedQueryLog(t *testing.T) *Log {
	t.Helper()
	log, _ := newTestLog(t, store.NewMemory())
	ctx := context.Background()
	bruno := attendance.Actor{ID: "u2", Name: "Bruno Lima"}

	inputs := []Input{
		{Actor: ana, Action: "Patient admitted", Module: attendance.ModuleSystem, Severity: SeverityInfo,
			SubjectID: "p1", SubjectName: "João Silva"},
		{Actor: ana, Action: "Status changed to initial-listening", Module: attendance.ModuleInitialListening,
			Severity: SeveritySuccess, SubjectID: "p1", SubjectName: "João Silva"},
		{Actor: bruno, Action: "Vaccine applied", Module: attendance.ModuleVaccination, Severity: SeveritySuccess,
			SubjectID: "p2", SubjectName: "Maria Costa"},
		{Actor: bruno, Action: "Draft save failed", Module: attendance.ModuleSystem, Severity: SeverityWarning},
		{Actor: ana, Action: "Status changed to completed", Module: attendance.ModuleAttendance,
			Severity: SeveritySuccess, SubjectID: "p1", SubjectName: "João Silva"},
	}
	for _, in := range inputs {
		_, err := log.Record(ctx, in)
		require.NoError(t, err)
	}
	return log
}

func actions(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func TestQuery_NewestFirst(t *testing.T) {
	log := seedQueryLog(t)
	assert.Equal(t, []string{
		"Status changed to completed",
		"Draft save failed",
		"Vaccine applied",
		"Status changed to initial-listening",
		"Patient admitted",
	}, actions(log.Query(Filter{})))
}

func TestQuery_Filters(t *testing.T) {
	log := seedQueryLog(t)
	epoch := testutil.DefaultEpoch

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"text matches action", Filter{Text: "VACCINE"}, []string{"Vaccine applied"}},
		{"text matches actor", Filter{Text: "bruno"}, []string{"Draft save failed", "Vaccine applied"}},
		{"text matches subject with accents", Filter{Text: "JOÃO"},
			[]string{"Status changed to completed", "Status changed to initial-listening", "Patient admitted"}},
		{"text is trimmed", Filter{Text: "  maria  "}, []string{"Vaccine applied"}},
		{"module", Filter{Module: attendance.ModuleSystem}, []string{"Draft save failed", "Patient admitted"}},
		{"severity", Filter{Severity: SeveritySuccess},
			[]string{"Status changed to completed", "Vaccine applied", "Status changed to initial-listening"}},
		{"subject", Filter{SubjectID: "p2"}, []string{"Vaccine applied"}},
		{"anded", Filter{SubjectID: "p1", Severity: SeveritySuccess, Text: "completed"},
			[]string{"Status changed to completed"}},
		{"time range inclusive", Filter{From: epoch.Add(time.Second), To: epoch.Add(3 * time.Second)},
			[]string{"Draft save failed", "Vaccine applied", "Status changed to initial-listening"}},
		{"limit", Filter{Limit: 2}, []string{"Status changed to completed", "Draft save failed"}},
		{"no match", Filter{Text: "pharmacy"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, actions(log.Query(tt.filter)))
		})
	}
}

func TestQuery_ReturnsCopies(t *testing.T) {
	log := seedQueryLog(t)
	got := log.Query(Filter{Limit: 1})
	got[0].Action = "tampered"
	assert.Equal(t, "Status changed to completed", log.Query(Filter{Limit: 1})[0].Action)
}
