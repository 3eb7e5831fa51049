package poll

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the poll and investigation loops.
type Metrics struct {
	PollCyclesTotal       *prometheus.CounterVec
	PollErrorsFound       prometheus.Counter
	PollItemFailures      prometheus.Counter
	SignaturesCreated     prometheus.Counter
	SignaturesUpdated     prometheus.Counter
	InvestigationsTotal   *prometheus.CounterVec
	InvestigationDuration *prometheus.HistogramVec
	DiagnosisCost         prometheus.Histogram
	SchedulerBackoff      prometheus.Counter
}

// NewMetrics registers and returns poll metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollCyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sleuth_poll_cycles_total",
			Help: "Total poll cycles by outcome.",
		}, []string{"outcome"}),
		PollErrorsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_poll_errors_found_total",
			Help: "Total error occurrences fetched from telemetry.",
		}),
		PollItemFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_poll_item_failures_total",
			Help: "Error events skipped during ingest (fingerprint or persist failure).",
		}),
		SignaturesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_signatures_created_total",
			Help: "Signatures created on first sighting.",
		}),
		SignaturesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_signatures_updated_total",
			Help: "Occurrences recorded on existing signatures.",
		}),
		InvestigationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sleuth_investigations_total",
			Help: "Total investigations by outcome.",
		}, []string{"outcome"}),
		InvestigationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sleuth_investigation_duration_seconds",
			Help:    "Duration of single investigations in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"outcome"}),
		DiagnosisCost: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sleuth_diagnosis_cost_usd",
			Help:    "Reported cost per produced diagnosis.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // $0.01 .. ~$20
		}),
		SchedulerBackoff: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_scheduler_backoff_total",
			Help: "Scheduler ticks delayed by failure backoff.",
		}),
	}

	reg.MustRegister(
		m.PollCyclesTotal,
		m.PollErrorsFound,
		m.PollItemFailures,
		m.SignaturesCreated,
		m.SignaturesUpdated,
		m.InvestigationsTotal,
		m.InvestigationDuration,
		m.DiagnosisCost,
		m.SchedulerBackoff,
	)
	return m
}

// ObservePoll records the aggregate counts of one successful poll cycle.
func (m *Metrics) ObservePoll(res Result) {
	m.PollErrorsFound.Add(float64(res.ErrorsFound))
	m.SignaturesCreated.Add(float64(res.SignaturesCreated))
	m.SignaturesUpdated.Add(float64(res.SignaturesUpdated))
}

// ObserveInvestigation records one finished investigation.
func (m *Metrics) ObserveInvestigation(outcome string, dur time.Duration, cost float64) {
	m.InvestigationsTotal.WithLabelValues(outcome).Inc()
	m.InvestigationDuration.WithLabelValues(outcome).Observe(dur.Seconds())
	if outcome == "diagnosed" {
		m.DiagnosisCost.Observe(cost)
	}
}
