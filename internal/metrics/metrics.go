// Package metrics описывает метрики Prometheus для жизненного цикла заметок
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	VersionsCreated       *prometheus.CounterVec
	SignaturesIssued      *prometheus.CounterVec
	SignaturesInvalidated prometheus.Counter
	NotesUnlocked         prometheus.Counter
	CoSignRequests        *prometheus.CounterVec
	AutoSaveRuns          *prometheus.CounterVec
	AutoSaveFailures      prometheus.Counter
	TrackedNotes          prometheus.Gauge
	LockedEditsRejected   prometheus.Counter

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New создаёт метрики и регистрирует их в reg. Если reg равен nil,
// метрики не регистрируются (удобно для тестов с несколькими экземплярами).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		VersionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicnotes_versions_created_total",
			Help: "Total number of note versions appended",
		}, []string{"kind"}),
		SignaturesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicnotes_signatures_issued_total",
			Help: "Total number of signatures issued",
		}, []string{"type"}),
		SignaturesInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicnotes_signatures_invalidated_total",
			Help: "Total number of signatures invalidated, including supersession",
		}),
		NotesUnlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicnotes_notes_unlocked_total",
			Help: "Total number of signed notes reopened for editing",
		}),
		CoSignRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicnotes_cosign_requests_total",
			Help: "Co-signature request transitions",
		}, []string{"status"}),
		AutoSaveRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicnotes_autosave_runs_total",
			Help: "Auto-save executions by outcome",
		}, []string{"outcome"}),
		AutoSaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicnotes_autosave_failures_total",
			Help: "Auto-save executions that failed and were suppressed",
		}),
		TrackedNotes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clinicnotes_autosave_tracked_notes",
			Help: "Notes with an active debounce timer",
		}),
		LockedEditsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicnotes_locked_edits_rejected_total",
			Help: "Edits refused because the note is signed and locked",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicnotes_requests_total",
			Help: "API requests by transport, operation and status",
		}, []string{"transport", "operation", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinicnotes_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"transport", "operation"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.VersionsCreated,
			m.SignaturesIssued,
			m.SignaturesInvalidated,
			m.NotesUnlocked,
			m.CoSignRequests,
			m.AutoSaveRuns,
			m.AutoSaveFailures,
			m.TrackedNotes,
			m.LockedEditsRejected,
			m.RequestsTotal,
			m.RequestDuration,
		)
	}
	return m
}

// RecordRequest учитывает завершённый запрос к API
func (m *Metrics) RecordRequest(transport, operation, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(transport, operation, status).Inc()
	m.RequestDuration.WithLabelValues(transport, operation).Observe(duration.Seconds())
}
