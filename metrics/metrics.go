package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for census sessions. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Remote calls by operation and outcome
	RemoteCalls *prometheus.CounterVec

	// Remote call latency by operation
	RemoteLatency *prometheus.HistogramVec

	// Rows accepted by bulk import
	ImportedRows prometheus.Counter

	// Records that blocked a save
	ValidationFailures prometheus.Counter

	// Members the member service accepted
	SavedMembers prometheus.Counter

	// Latest out-of-area ratio per census
	OutOfAreaRatio *prometheus.GaugeVec
}

// New registers all census metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RemoteCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "census_remote_calls_total",
			Help: "Total remote calls by operation and outcome",
		}, []string{"op", "outcome"}), // outcome: "ok", "error"

		RemoteLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "census_remote_call_duration_seconds",
			Help:    "Duration of member service and service-area calls",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),

		ImportedRows: f.NewCounter(prometheus.CounterOpts{
			Name: "census_imported_rows_total",
			Help: "Total rows accepted by bulk import",
		}),

		ValidationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "census_validation_failures_total",
			Help: "Total member records that blocked a save",
		}),

		SavedMembers: f.NewCounter(prometheus.CounterOpts{
			Name: "census_saved_members_total",
			Help: "Total members accepted by the member service",
		}),

		OutOfAreaRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "census_out_of_area_ratio",
			Help: "Share of primary members outside the service area",
		}, []string{"census_id"}),
	}
}

// ObserveRemote records one remote call started at start.
func (m *Metrics) ObserveRemote(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RemoteCalls.WithLabelValues(op, outcome).Inc()
	m.RemoteLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddImportedRows(n int) {
	if m != nil && n > 0 {
		m.ImportedRows.Add(float64(n))
	}
}

func (m *Metrics) AddValidationFailures(n int) {
	if m != nil && n > 0 {
		m.ValidationFailures.Add(float64(n))
	}
}

func (m *Metrics) AddSaved(n int) {
	if m != nil && n > 0 {
		m.SavedMembers.Add(float64(n))
	}
}

func (m *Metrics) SetOutOfAreaRatio(censusID string, ratio float64) {
	if m != nil {
		m.OutOfAreaRatio.WithLabelValues(censusID).Set(ratio)
	}
}
