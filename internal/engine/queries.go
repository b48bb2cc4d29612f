package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/store"
)

// Record returns the stored attendance record for subjectID.
func (e *Engine) Record(ctx context.Context, subjectID string) (attendance.Record, error) {
	rec, _, err := e.load(ctx, subjectID)
	return rec, err
}

// CurrentStatus returns the subject's status.
func (e *Engine) CurrentStatus(ctx context.Context, subjectID string) (attendance.Status, error) {
	rec, _, err := e.load(ctx, subjectID)
	if err != nil {
		return "", err
	}
	return rec.CurrentStatus, nil
}

// AllowedNextStatuses returns the statuses the subject may move to next,
// recomputed from the transition table.
func (e *Engine) AllowedNextStatuses(ctx context.Context, subjectID string) ([]attendance.Status, error) {
	rec, _, err := e.load(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return rec.AllowedNextStatuses(), nil
}

// History returns the subject's accepted transitions, oldest first.
func (e *Engine) History(ctx context.Context, subjectID string) ([]attendance.Transition, error) {
	rec, _, err := e.load(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return rec.History(), nil
}

// CanEnterInitialListening reports whether the subject may move to
// initial-listening right now.
func (e *Engine) CanEnterInitialListening(ctx context.Context, subjectID string) (bool, error) {
	status, err := e.CurrentStatus(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return attendance.CanEnterInitialListening(status), nil
}

// CanStartAttendance reports whether the subject may move to in-service
// right now.
func (e *Engine) CanStartAttendance(ctx context.Context, subjectID string) (bool, error) {
	status, err := e.CurrentStatus(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return attendance.CanStartAttendance(status), nil
}

// Subjects lists every admitted subject id in ascending order.
func (e *Engine) Subjects(ctx context.Context) ([]string, error) {
	keys, err := e.kv.Keys(ctx, store.StatusKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, store.StatusKeyPrefix)
	}
	return ids, nil
}
