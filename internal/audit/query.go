package audit

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/roach88/attend/internal/attendance"
)

// Filter selects entries. Zero-valued fields match everything; set fields
// are ANDed.
type Filter struct {
	// Text is matched case-insensitively as a substring of the action, the
	// actor name or the subject name.
	Text      string
	Module    attendance.Module
	Severity  Severity
	SubjectID string
	// From and To bound the timestamp, both inclusive.
	From time.Time
	To   time.Time
	// Limit caps the result size; 0 means no cap.
	Limit int
}

// Query returns matching entries, newest first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := newMatcher(f)
	out := []Entry{}
	for i := len(l.entries) - 1; i >= 0; i-- {
		if !m.match(l.entries[i]) {
			continue
		}
		out = append(out, l.entries[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

type matcher struct {
	f      Filter
	folder cases.Caser
	needle string
}

func newMatcher(f Filter) *matcher {
	// A Caser carries state, so each query gets its own.
	m := &matcher{f: f, folder: cases.Fold()}
	if t := strings.TrimSpace(f.Text); t != "" {
		m.needle = m.folder.String(t)
	}
	return m
}

func (m *matcher) match(e Entry) bool {
	if m.f.Module != "" && e.Module != m.f.Module {
		return false
	}
	if m.f.Severity != "" && e.Severity != m.f.Severity {
		return false
	}
	if m.f.SubjectID != "" && e.SubjectID != m.f.SubjectID {
		return false
	}
	if !m.f.From.IsZero() && e.Timestamp.Before(m.f.From) {
		return false
	}
	if !m.f.To.IsZero() && e.Timestamp.After(m.f.To) {
		return false
	}
	if m.needle == "" {
		return true
	}
	for _, hay := range []string{e.Action, e.ActorName, e.SubjectName} {
		if hay != "" && strings.Contains(m.folder.String(hay), m.needle) {
			return true
		}
	}
	return false
}
