package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/audit"
	"github.com/roach88/attend/internal/events"
	"github.com/roach88/attend/internal/gate"
	"github.com/roach88/attend/internal/store"
)

// DefaultMaxCASAttempts bounds how many times a transition reloads the
// record after losing a compare-and-set race to another writer.
const DefaultMaxCASAttempts = 3

// Engine applies attendance transitions.
//
// Thread-safety model:
//   - All methods are safe from any goroutine
//   - Writes to one subject are serialised by a per-subject mutex
//   - Writes to different subjects run in parallel
type Engine struct {
	kv     store.KV
	gate   PermissionGate
	audit  AuditRecorder
	clock  Clock
	bus    events.Publisher
	logger *slog.Logger

	maxCASAttempts int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithGate sets the permission gate. Default: gate.AllowAll.
func WithGate(g PermissionGate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithAudit sets where audit entries go. Default: entries are dropped.
func WithAudit(a AuditRecorder) Option {
	return func(e *Engine) { e.audit = a }
}

// WithClock sets the transition clock. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithEvents sets the notification sink.
func WithEvents(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.bus = p
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMaxCASAttempts sets how many compare-and-set rounds a transition may
// take before giving up with a persistence failure.
//
// Default: 3 (DefaultMaxCASAttempts)
func WithMaxCASAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCASAttempts = n
		}
	}
}

// New creates an Engine persisting through kv.
func New(kv store.KV, opts ...Option) *Engine {
	e := &Engine{
		kv:             kv,
		gate:           gate.AllowAll{},
		audit:          discardAudit{},
		clock:          SystemClock{},
		bus:            events.Discard,
		logger:         slog.Default(),
		maxCASAttempts: DefaultMaxCASAttempts,
		locks:          make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type discardAudit struct{}

func (discardAudit) Record(context.Context, audit.Input) (audit.Entry, error) {
	return audit.Entry{}, nil
}

// AdmitRequest creates an attendance record.
type AdmitRequest struct {
	SubjectID   string
	SubjectName string
	// Seed is the initial status; empty means waiting.
	Seed  attendance.Status
	Actor attendance.Actor
}

// TransitionRequest asks to move a subject to a new status.
type TransitionRequest struct {
	SubjectID   string
	SubjectName string
	To          attendance.Status
	Actor       attendance.Actor
	Reason      string
	// Module overrides the module recorded in the audit entry and passed
	// to the gate. Empty means inferred from To.
	Module attendance.Module
}

// Rejection is the payload of a TransitionRejected event.
type Rejection struct {
	SubjectID string
	From      attendance.Status
	To        attendance.Status
	Code      ErrorCode
}

// Admit creates the record for a new subject, seeded at req.Seed.
// Admitting a subject twice fails with ErrCodeAlreadyAdmitted.
func (e *Engine) Admit(ctx context.Context, req AdmitRequest) (attendance.Record, error) {
	if err := ctx.Err(); err != nil {
		return attendance.Record{}, err
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		return attendance.Record{}, &Error{Code: ErrCodeInvalidRequest, Message: "subject id is required"}
	}
	if err := req.Actor.Validate(); err != nil {
		return attendance.Record{}, &Error{Code: ErrCodeInvalidRequest, Message: err.Error(), SubjectID: req.SubjectID}
	}
	rec, err := attendance.NewRecord(req.SubjectID, req.Seed)
	if err != nil {
		return attendance.Record{}, &Error{Code: ErrCodeInvalidStatus, Message: err.Error(), SubjectID: req.SubjectID}
	}

	if !e.gate.IsAllowed(ctx, req.Actor, attendance.ModuleAttendance, gate.AdmitAction) {
		return attendance.Record{}, NewPermissionDeniedError(req.SubjectID, req.Actor.ID, gate.AdmitAction)
	}

	lock := e.subjectLock(req.SubjectID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return attendance.Record{}, NewPersistenceError(req.SubjectID, "", "", err)
	}
	if _, err := e.kv.Set(ctx, store.StatusKey(req.SubjectID), data, 0); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return attendance.Record{}, &Error{
				Code:      ErrCodeAlreadyAdmitted,
				Message:   "subject already has an attendance record",
				SubjectID: req.SubjectID,
			}
		}
		return attendance.Record{}, NewPersistenceError(req.SubjectID, "", "", err)
	}

	e.logger.Info("subject admitted", "subject", req.SubjectID, "status", string(rec.CurrentStatus))
	e.recordAudit(ctx, audit.Input{
		Actor:       req.Actor,
		Action:      "Patient admitted",
		Module:      attendance.ModuleAttendance,
		Severity:    audit.SeverityInfo,
		SubjectID:   req.SubjectID,
		SubjectName: req.SubjectName,
		Details:     map[string]any{"status": string(rec.CurrentStatus)},
	})
	e.bus.Publish(events.Event{Kind: events.SubjectAdmitted, SubjectID: req.SubjectID, Payload: rec})
	return rec, nil
}

// Transition moves a subject to req.To.
//
// On success the returned record includes the new transition. On failure
// the stored record is unchanged and the error is an *Error whose code says
// why: invalid request, permission denied, invalid transition, not found or
// persistence failure.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) (attendance.Record, error) {
	if err := ctx.Err(); err != nil {
		return attendance.Record{}, err
	}
	if err := validateTransitionRequest(req); err != nil {
		return attendance.Record{}, err
	}

	module := req.Module
	if module == "" {
		module = attendance.ModuleFor(req.To)
	}
	action := gate.TransitionAction(req.To)

	// The gate is asked before anything is read, so a refused actor learns
	// nothing about the record.
	if !e.gate.IsAllowed(ctx, req.Actor, module, action) {
		e.reject(req.SubjectID, "", req.To, ErrCodePermissionDenied)
		return attendance.Record{}, NewPermissionDeniedError(req.SubjectID, req.Actor.ID, action)
	}

	lock := e.subjectLock(req.SubjectID)
	lock.Lock()
	next, t, err := e.commit(ctx, req)
	lock.Unlock()
	if err != nil {
		var ee *Error
		if errors.As(err, &ee) {
			e.reject(req.SubjectID, ee.From, req.To, ee.Code)
		}
		return attendance.Record{}, err
	}

	e.logger.Info("transition committed",
		"subject", req.SubjectID,
		"from", string(t.From),
		"to", string(t.To),
		"actor", req.Actor.ID)

	details := map[string]any{"from": string(t.From), "to": string(t.To)}
	if t.Reason != "" {
		details["reason"] = t.Reason
	}
	e.recordAudit(ctx, audit.Input{
		Actor:       req.Actor,
		Action:      fmt.Sprintf("Status changed from %s to %s", t.From, t.To),
		Module:      module,
		Severity:    audit.SeveritySuccess,
		SubjectID:   req.SubjectID,
		SubjectName: req.SubjectName,
		Details:     details,
	})
	e.bus.Publish(events.Event{Kind: events.TransitionCommitted, SubjectID: req.SubjectID, Payload: t})
	return next, nil
}

// commit runs the read, validate, append, persist cycle. Must be called
// with the subject lock held.
func (e *Engine) commit(ctx context.Context, req TransitionRequest) (attendance.Record, attendance.Transition, error) {
	key := store.StatusKey(req.SubjectID)

	for attempt := 1; ; attempt++ {
		rec, version, err := e.load(ctx, req.SubjectID)
		if err != nil {
			return attendance.Record{}, attendance.Transition{}, err
		}

		from := rec.CurrentStatus
		if !attendance.CanTransition(from, req.To) {
			return attendance.Record{}, attendance.Transition{}, NewInvalidTransitionError(req.SubjectID, from, req.To)
		}

		t := attendance.Transition{
			From:      from,
			To:        req.To,
			Timestamp: e.nextTimestamp(rec),
			ActorID:   req.Actor.ID,
			ActorName: req.Actor.Name,
			Reason:    strings.TrimSpace(req.Reason),
		}
		next, err := rec.Apply(t)
		if err != nil {
			return attendance.Record{}, attendance.Transition{}, NewInvalidTransitionError(req.SubjectID, from, req.To)
		}

		data, err := json.Marshal(next)
		if err != nil {
			return attendance.Record{}, attendance.Transition{}, NewPersistenceError(req.SubjectID, from, req.To, err)
		}

		_, err = e.kv.Set(ctx, key, data, version)
		if err == nil {
			return next, t, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return attendance.Record{}, attendance.Transition{}, NewPersistenceError(req.SubjectID, from, req.To, err)
		}
		if attempt >= e.maxCASAttempts {
			return attendance.Record{}, attendance.Transition{}, NewPersistenceError(req.SubjectID, from, req.To,
				fmt.Errorf("gave up after %d attempts: %w", attempt, err))
		}
		e.logger.Debug("record changed underneath transition; reloading",
			"subject", req.SubjectID, "attempt", attempt)
	}
}

// nextTimestamp keeps a record's transition timestamps non-decreasing.
func (e *Engine) nextTimestamp(rec attendance.Record) time.Time {
	ts := e.clock.Now().UTC()
	if n := len(rec.Transitions); n > 0 && ts.Before(rec.Transitions[n-1].Timestamp) {
		return rec.Transitions[n-1].Timestamp
	}
	return ts
}

func validateTransitionRequest(req TransitionRequest) error {
	if strings.TrimSpace(req.SubjectID) == "" {
		return &Error{Code: ErrCodeInvalidRequest, Message: "subject id is required"}
	}
	if err := req.Actor.Validate(); err != nil {
		return &Error{Code: ErrCodeInvalidRequest, Message: err.Error(), SubjectID: req.SubjectID}
	}
	if !req.To.Valid() {
		return &Error{
			Code:      ErrCodeInvalidStatus,
			Message:   fmt.Sprintf("unknown status %q", req.To),
			SubjectID: req.SubjectID,
			To:        req.To,
		}
	}
	if req.Module != "" && !req.Module.Valid() {
		return &Error{
			Code:      ErrCodeInvalidRequest,
			Message:   fmt.Sprintf("unknown module %q", req.Module),
			SubjectID: req.SubjectID,
		}
	}
	return nil
}

// recordAudit appends an entry. Failures are logged and never reach the
// caller; the audit log reports its own durability problems as events.
func (e *Engine) recordAudit(ctx context.Context, in audit.Input) {
	if _, err := e.audit.Record(ctx, in); err != nil {
		e.logger.Warn("audit entry not recorded",
			"subject", in.SubjectID,
			"action", in.Action,
			"error", err)
	}
}

func (e *Engine) reject(subjectID string, from, to attendance.Status, code ErrorCode) {
	e.bus.Publish(events.Event{
		Kind:      events.TransitionRejected,
		SubjectID: subjectID,
		Payload:   Rejection{SubjectID: subjectID, From: from, To: to, Code: code},
	})
}

// subjectLock returns the mutex serialising writes to one subject.
func (e *Engine) subjectLock(subjectID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[subjectID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[subjectID] = l
	}
	return l
}

// load reads and verifies a record, returning it with its store version.
func (e *Engine) load(ctx context.Context, subjectID string) (attendance.Record, int64, error) {
	v, err := e.kv.Get(ctx, store.StatusKey(subjectID))
	if errors.Is(err, store.ErrNotFound) {
		return attendance.Record{}, 0, &Error{
			Code:      ErrCodeNotFound,
			Message:   "subject has no attendance record",
			SubjectID: subjectID,
		}
	}
	if err != nil {
		return attendance.Record{}, 0, NewPersistenceError(subjectID, "", "", fmt.Errorf("read record: %w", err))
	}

	var rec attendance.Record
	if err := json.Unmarshal(v.Data, &rec); err != nil {
		return attendance.Record{}, 0, &Error{Code: ErrCodeCorruptRecord, Message: "record is not valid JSON", SubjectID: subjectID, Err: err}
	}
	if rec.Transitions == nil {
		rec.Transitions = []attendance.Transition{}
	}
	if err := rec.Verify(); err != nil {
		return attendance.Record{}, 0, &Error{Code: ErrCodeCorruptRecord, Message: "record failed verification", SubjectID: subjectID, Err: err}
	}
	if rec.SubjectID != subjectID {
		return attendance.Record{}, 0, &Error{
			Code:      ErrCodeCorruptRecord,
			Message:   fmt.Sprintf("record is stored under %s but names %s", subjectID, rec.SubjectID),
			SubjectID: subjectID,
		}
	}
	return rec, v.Version, nil
}
