package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/canonical"
)

// Severity grades an audit entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Entry is one immutable audit record.
type Entry struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	ActorID     string            `json:"actorId"`
	ActorName   string            `json:"actorName"`
	Action      string            `json:"action"`
	Module      attendance.Module `json:"module"`
	Severity    Severity          `json:"severity"`
	SubjectID   string            `json:"subjectId,omitempty"`
	SubjectName string            `json:"subjectName,omitempty"`
	Details     map[string]any    `json:"details,omitempty"`
}

// Input is what callers supply to Record. The log fills in ID and Timestamp.
type Input struct {
	Actor       attendance.Actor
	Action      string
	Module      attendance.Module
	Severity    Severity
	SubjectID   string
	SubjectName string
	Details     map[string]any
}

func (in Input) validate() error {
	if err := in.Actor.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(in.Action) == "" {
		return fmt.Errorf("action is required")
	}
	if !in.Module.Valid() {
		return fmt.Errorf("unknown module %q", in.Module)
	}
	if !in.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", in.Severity)
	}
	if in.Details != nil {
		// Details must survive the canonical encoding used by exports.
		if _, err := canonical.Marshal(in.Details); err != nil {
			return fmt.Errorf("details: %w", err)
		}
	}
	return nil
}

// cloneDetails deep-copies the map and slice structure so later changes to
// the caller's value cannot reach a stored entry.
func cloneDetails(d map[string]any) map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneDetails(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case map[string]string:
		out := make(map[string]string, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out
	default:
		return v
	}
}
