// Package metrics exposes Prometheus counters for attendance activity.
//
// Counters are driven by the events bus rather than by calls from the core,
// so the engines stay unaware of metrics.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/audit"
	"github.com/roach88/attend/internal/engine"
	"github.com/roach88/attend/internal/events"
)

// Outcome label for committed transitions. Rejections use the lowercased
// engine error code.
const OutcomeCommitted = "committed"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	Transitions          *prometheus.CounterVec
	AuditEntries         *prometheus.CounterVec
	AuditPersistFailures prometheus.Counter
	DraftsSaved          prometheus.Counter
	DraftSaveFailures    prometheus.Counter
	SubjectsAdmitted     prometheus.Counter
	HTTPRequestDuration  *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attend_transitions_total",
			Help: "Status transition requests by outcome",
		}, []string{"from", "to", "outcome"}),
		AuditEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attend_audit_entries_total",
			Help: "Audit entries appended",
		}, []string{"module", "severity"}),
		AuditPersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "attend_audit_persist_failures_total",
			Help: "Audit appends whose snapshot could not be written",
		}),
		DraftsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "attend_drafts_saved_total",
			Help: "Drafts written to the store",
		}),
		DraftSaveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "attend_draft_save_failures_total",
			Help: "Draft saves that failed",
		}),
		SubjectsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "attend_subjects_admitted_total",
			Help: "Subjects admitted",
		}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attend_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route", "status"}),
	}
}

// Subscribe feeds m from bus until the returned cancel is called.
func (m *Metrics) Subscribe(bus *events.Bus) (cancel func()) {
	return bus.Subscribe(m.Observe)
}

// Observe updates counters for one event. Unknown kinds are ignored.
func (m *Metrics) Observe(e events.Event) {
	switch e.Kind {
	case events.SubjectAdmitted:
		m.SubjectsAdmitted.Inc()
	case events.TransitionCommitted:
		if t, ok := e.Payload.(attendance.Transition); ok {
			m.Transitions.WithLabelValues(string(t.From), string(t.To), OutcomeCommitted).Inc()
		}
	case events.TransitionRejected:
		if r, ok := e.Payload.(engine.Rejection); ok {
			m.Transitions.WithLabelValues(string(r.From), string(r.To), strings.ToLower(string(r.Code))).Inc()
		}
	case events.AuditAppended:
		if entry, ok := e.Payload.(audit.Entry); ok {
			m.AuditEntries.WithLabelValues(string(entry.Module), string(entry.Severity)).Inc()
		}
	case events.AuditPersistFailed:
		m.AuditPersistFailures.Inc()
	case events.DraftSaved:
		m.DraftsSaved.Inc()
	case events.DraftSaveFailed:
		m.DraftSaveFailures.Inc()
	}
}

// ObserveHTTP records the duration of one request.
// Call with time.Now() at the start of the request.
func (m *Metrics) ObserveHTTP(method, route string, status int, start time.Time) {
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}
