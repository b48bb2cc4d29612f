package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/audit"
	"github.com/roach88/attend/internal/draft"
	"github.com/roach88/attend/internal/engine"
)

type admitRequest struct {
	SubjectID   string            `json:"subjectId"`
	SubjectName string            `json:"subjectName"`
	Seed        attendance.Status `json:"seed"`
}

type transitionRequest struct {
	To          attendance.Status `json:"to"`
	SubjectName string            `json:"subjectName"`
	Reason      string            `json:"reason"`
	Module      attendance.Module `json:"module"`
}

// subjectView is a record plus what the UI needs to render its actions.
type subjectView struct {
	attendance.Record
	AllowedNext              []attendance.Status `json:"allowedNext"`
	CanEnterInitialListening bool                `json:"canEnterInitialListening"`
	CanStartAttendance       bool                `json:"canStartAttendance"`
}

func newSubjectView(rec attendance.Record) subjectView {
	return subjectView{
		Record:                   rec,
		AllowedNext:              rec.AllowedNextStatuses(),
		CanEnterInitialListening: attendance.CanEnterInitialListening(rec.CurrentStatus),
		CanStartAttendance:       attendance.CanStartAttendance(rec.CurrentStatus),
	}
}

func (s *server) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.Subjects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"subjects": ids})
}

func (s *server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var req admitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.Engine.Admit(r.Context(), engine.AdmitRequest{
		SubjectID:   req.SubjectID,
		SubjectName: req.SubjectName,
		Seed:        req.Seed,
		Actor:       actorFrom(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSubjectView(rec))
}

func (s *server) handleGetSubject(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Engine.Record(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubjectView(rec))
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.Engine.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]attendance.Transition{"transitions": history})
}

func (s *server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.Engine.Transition(r.Context(), engine.TransitionRequest{
		SubjectID:   chi.URLParam(r, "id"),
		SubjectName: req.SubjectName,
		To:          req.To,
		Actor:       actorFrom(r),
		Reason:      req.Reason,
		Module:      req.Module,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubjectView(rec))
}

// auditFilter parses q, module, severity, subject, from, to and limit.
func auditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		Text:      q.Get("q"),
		SubjectID: q.Get("subject"),
	}
	if v := q.Get("module"); v != "" {
		m, err := attendance.ParseModule(v)
		if err != nil {
			return f, badRequest("%v", err)
		}
		f.Module = m
	}
	if v := q.Get("severity"); v != "" {
		sev, err := audit.ParseSeverity(v)
		if err != nil {
			return f, badRequest("%v", err)
		}
		f.Severity = sev
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, badRequest("%s: expected RFC 3339 time, got %q", name, v)
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, badRequest("limit: expected a non-negative integer, got %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

func (s *server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]audit.Entry{"entries": s.Audit.Query(f)})
}

func (s *server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := audit.ExportCSV(s.Audit.Query(f))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+audit.ExportFilename(s.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	slots, err := s.Drafts.Slots(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"slots": slots})
}

func (s *server) handleLoadDraft(w http.ResponseWriter, r *http.Request) {
	d, err := s.Drafts.Load(r.Context(), chi.URLParam(r, "slot"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var p draft.Payload
	if err := decodeJSON(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	ack, err := s.Drafts.Save(r.Context(), chi.URLParam(r, "slot"), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// handleClearDraft also drops the slot's autosave buffer, so a buffered
// edit cannot save the draft again after it was cleared.
func (s *server) handleClearDraft(w http.ResponseWriter, r *http.Request) {
	discard := s.Drafts.Clear
	if s.Autosaver != nil {
		discard = s.Autosaver.Clear
	}
	if err := discard(r.Context(), chi.URLParam(r, "slot")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBufferDraft stages edits for the autosaver instead of writing them
// straight to the store.
func (s *server) handleBufferDraft(w http.ResponseWriter, r *http.Request) {
	var p draft.Payload
	if err := decodeJSON(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, f := range []string{draft.FieldSavedAt, draft.FieldSchemaVersion} {
		if _, ok := p[f]; ok {
			s.writeError(w, r, badRequest("payload uses reserved field %q", f))
			return
		}
	}
	buf, err := s.Autosaver.Buffer(chi.URLParam(r, "slot"), s.AutosaveInterval)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	buf.Update(p)
	dirty, savedAt := buf.State()
	resp := map[string]any{"dirty": dirty}
	if !savedAt.IsZero() {
		resp["lastSavedAt"] = savedAt.Format(draft.SavedAtLayout)
	}
	writeJSON(w, http.StatusAccepted, resp)
}
