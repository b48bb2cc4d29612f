package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/audit"
	"github.com/roach88/attend/internal/draft"
	"github.com/roach88/attend/internal/engine"
	"github.com/roach88/attend/internal/events"
	"github.com/roach88/attend/internal/gate"
	"github.com/roach88/attend/internal/metrics"
	"github.com/roach88/attend/internal/store"
	kvmocks "github.com/roach88/attend/internal/store/mocks"
	"github.com/roach88/attend/internal/testutil"
)

type harness struct {
	handler   http.Handler
	log       *audit.Log
	autosaver *draft.Autosaver
	reg       *prometheus.Registry
}

func newHarness(t *testing.T, kv store.KV, engineOpts ...engine.Option) *harness {
	t.Helper()
	if kv == nil {
		kv = store.NewMemory()
	}
	clock := testutil.NewFixedClock(time.Time{}, time.Second)
	bus := events.NewBus(nil)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Subscribe(bus)

	log := audit.New(kv, audit.WithClock(clock), audit.WithEvents(bus),
		audit.WithIDGenerator(testutil.NewSequenceIDs("audit")))
	eng := engine.New(kv, append([]engine.Option{
		engine.WithClock(clock), engine.WithAudit(log), engine.WithEvents(bus),
	}, engineOpts...)...)
	drafts := draft.New(kv, draft.WithClock(clock), draft.WithEvents(bus))
	autosaver := draft.NewAutosaver(drafts)

	return &harness{
		handler: NewRouter(Deps{
			Engine:           eng,
			Audit:            log,
			Drafts:           drafts,
			Autosaver:        autosaver,
			AutosaveInterval: time.Hour,
			Metrics:          m,
			Gatherer:         reg,
			Now:              func() time.Time { return testutil.DefaultEpoch.Add(30 * time.Minute) },
		}),
		log:       log,
		autosaver: autosaver,
		reg:       reg,
	}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderActorID, "u1")
	req.Header.Set(HeaderActorName, "Ana Souza")
	req.Header.Set(HeaderActorRoles, "nurse, triage")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSubjects_Lifecycle(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/subjects", `{"subjectId":"p1","subjectName":"Joao Silva"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decode[subjectView](t, rec)
	assert.Equal(t, attendance.StatusWaiting, view.CurrentStatus)
	assert.True(t, view.CanEnterInitialListening)
	assert.Len(t, view.AllowedNext, 5)

	rec = h.do(t, http.MethodPost, "/subjects/p1/transitions", `{"to":"initial-listening","reason":"triage"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view = decode[subjectView](t, rec)
	assert.Equal(t, attendance.StatusInitialListening, view.CurrentStatus)
	assert.False(t, view.CanEnterInitialListening)
	assert.True(t, view.CanStartAttendance)

	rec = h.do(t, http.MethodPost, "/subjects/p1/transitions", `{"to":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/subjects/p1/transitions", `{"to":"in-service"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "INVALID_TRANSITION", body.Code)
	assert.Equal(t, attendance.StatusCompleted, body.From)
	assert.Equal(t, attendance.StatusInService, body.To)

	rec = h.do(t, http.MethodGet, "/subjects/p1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[map[string][]attendance.Transition](t, rec)["transitions"]
	require.Len(t, history, 2)
	assert.Equal(t, "triage", history[0].Reason)
	assert.Equal(t, "u1", history[0].ActorID)

	rec = h.do(t, http.MethodGet, "/subjects/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[subjectView](t, rec)
	assert.Empty(t, view.AllowedNext)

	rec = h.do(t, http.MethodGet, "/subjects", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"p1"}, decode[map[string][]string](t, rec)["subjects"])
}

func TestSubjects_Errors(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/subjects", `{"subjectId":"p1"}`).Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown subject", http.MethodGet, "/subjects/ghost", "", http.StatusNotFound, "NOT_FOUND"},
		{"unknown status", http.MethodPost, "/subjects/p1/transitions", `{"to":"discharged"}`, http.StatusBadRequest, "INVALID_STATUS"},
		{"bad json", http.MethodPost, "/subjects/p1/transitions", `{"to":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty body", http.MethodPost, "/subjects", "", http.StatusBadRequest, "INVALID_REQUEST"},
		{"admitted twice", http.MethodPost, "/subjects", `{"subjectId":"p1"}`, http.StatusConflict, "ALREADY_ADMITTED"},
		{"terminal seed", http.MethodPost, "/subjects", `{"subjectId":"p2","seed":"completed"}`, http.StatusBadRequest, "INVALID_STATUS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[errorBody](t, rec).Code)
		})
	}
}

func TestSubjects_MissingActorHeaders(t *testing.T) {
	h := newHarness(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/subjects", strings.NewReader(`{"subjectId":"p1"}`))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "actor id is required")
}

func TestSubjects_PermissionDenied(t *testing.T) {
	policy, err := gate.NewPolicy([]gate.Rule{
		{Module: "*", Action: "admit", Roles: []string{"nurse"}},
		{Module: "vaccination", Action: "transition:*", Roles: []string{"vaccinator"}},
	}, true)
	require.NoError(t, err)
	h := newHarness(t, nil, engine.WithGate(policy))

	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/subjects", `{"subjectId":"p1"}`).Code)

	rec := h.do(t, http.MethodPost, "/subjects/p1/transitions", `{"to":"vaccination"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PERMISSION_DENIED", decode[errorBody](t, rec).Code)

	rec = h.do(t, http.MethodPost, "/subjects/p1/transitions", `{"to":"in-service"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubjects_StoreUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	kv := kvmocks.NewMockKV(ctrl)
	kv.EXPECT().Get(gomock.Any(), store.StatusKey("p1")).Return(store.Value{}, errors.New("connection refused"))

	h := newHarness(t, kv)
	rec := h.do(t, http.MethodPost, "/subjects/p1/transitions", `{"to":"in-service"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "PERSISTENCE_FAILURE", decode[errorBody](t, rec).Code)
}

func TestAudit_QueryAndExport(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/subjects", `{"subjectId":"p1","subjectName":"Joao Silva"}`).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/subjects/p1/transitions", `{"to":"vaccination"}`).Code)

	rec := h.do(t, http.MethodGet, "/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[map[string][]audit.Entry](t, rec)["entries"]
	require.Len(t, entries, 2)
	assert.Equal(t, attendance.ModuleVaccination, entries[0].Module)

	rec = h.do(t, http.MethodGet, "/audit?module=attendance&severity=info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries = decode[map[string][]audit.Entry](t, rec)["entries"]
	require.Len(t, entries, 1)
	assert.Equal(t, "Patient admitted", entries[0].Action)

	rec = h.do(t, http.MethodGet, "/audit?q=JOAO&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]audit.Entry](t, rec)["entries"], 1)

	rec = h.do(t, http.MethodGet, "/audit/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="audit_logs_2026-01-15_09-30.csv"`, rec.Header().Get("Content-Disposition"))
	lines := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `"Timestamp","Actor","Action","Module","Severity","Subject","Details"`, lines[0])
	assert.Contains(t, lines[1], `"vaccination","success","p1"`)
	assert.Contains(t, lines[2], `"attendance","info","Joao Silva"`)
}

func TestAudit_BadFilters(t *testing.T) {
	h := newHarness(t, nil)
	for _, q := range []string{"module=pharmacy", "severity=fatal", "from=yesterday", "limit=-1", "limit=ten"} {
		t.Run(q, func(t *testing.T) {
			rec := h.do(t, http.MethodGet, "/audit?"+q, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestDrafts(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPut, "/drafts/triage", `{"complaint":"headache","temperature":38.2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[draft.Ack](t, rec).Saved)

	rec = h.do(t, http.MethodGet, "/drafts/triage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[draft.Draft](t, rec)
	assert.Equal(t, "headache", d.Payload["complaint"])
	assert.Equal(t, 38.2, d.Payload["temperature"])
	assert.Equal(t, draft.SchemaVersion, d.SchemaVersion)

	rec = h.do(t, http.MethodPut, "/drafts/triage", `{"complaint":"  "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[draft.Ack](t, rec).Saved)

	rec = h.do(t, http.MethodPut, "/drafts/triage", `{"savedAt":"2020-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/drafts", "")
	assert.Equal(t, []string{"triage"}, decode[map[string][]string](t, rec)["slots"])

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/drafts/triage", "").Code)
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/drafts/triage", "").Code)

	rec = h.do(t, http.MethodGet, "/drafts/triage", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDrafts_BufferedAutosave(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPatch, "/drafts/vaccine", `{"lot":"AB123"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, rec)["dirty"])

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/drafts/vaccine", "").Code)

	outcome, err := h.autosaver.Tick(context.Background(), "vaccine")
	require.NoError(t, err)
	assert.Equal(t, draft.OutcomeSaved, outcome)

	rec = h.do(t, http.MethodGet, "/drafts/vaccine", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AB123", decode[draft.Draft](t, rec).Payload["lot"])

	rec = h.do(t, http.MethodPatch, "/drafts/vaccine", `{"schemaVersion":"2.0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDrafts_ClearDropsBufferedEdits(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPatch, "/drafts/vaccine", `{"lot":"AB123"}`).Code)
	outcome, err := h.autosaver.Tick(ctx, "vaccine")
	require.NoError(t, err)
	require.Equal(t, draft.OutcomeSaved, outcome)

	// Edited after the last tick, then the form is abandoned.
	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPatch, "/drafts/vaccine", `{"lot":"AB124"}`).Code)
	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/drafts/vaccine", "").Code)

	_, err = h.autosaver.Tick(ctx, "vaccine")
	assert.ErrorIs(t, err, draft.ErrSlotNotEnabled)
	assert.Empty(t, h.autosaver.Enabled())
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/drafts/vaccine", "").Code)
}

func TestMetrics_UnmatchedRoutesShareOneLabel(t *testing.T) {
	h := newHarness(t, nil)
	for _, path := range []string{"/nope/1", "/nope/2", "/subjects/p1/unknown"} {
		assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, path, "").Code, path)
	}

	body := h.do(t, http.MethodGet, "/metrics", "").Body.String()
	assert.Contains(t, body, `route="unmatched"`)
	assert.NotContains(t, body, "/nope/")
	assert.NotContains(t, body, "/subjects/p1/unknown")
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/subjects", `{"subjectId":"p1"}`).Code)

	rec := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "attend_subjects_admitted_total 1")
	assert.Contains(t, body, `attend_http_request_duration_seconds_count{method="POST"`)

	unhealthy := NewRouter(Deps{
		Health: func(context.Context) error { return errors.New("store down") },
	})
	rec = httptest.NewRecorder()
	unhealthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
