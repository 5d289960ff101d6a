// Package metrics exposes Prometheus counters for the screening engine and
// its notifiers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for MessagesProcessed.
const (
	OutcomeText      = "text"
	OutcomeSilent    = "silent"
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
)

// Metrics holds the counters on a private registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesProcessed *prometheus.CounterVec
	Disqualifications *prometheus.CounterVec
	StepAdvances      *prometheus.CounterVec
	FAQAnswers        *prometheus.CounterVec
	Completions       prometheus.Counter
	NotifyFailures    *prometheus.CounterVec
}

// New registers the counters on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		MessagesProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenpipe_messages_processed_total",
				Help: "Inbound messages processed, by reply outcome",
			},
			[]string{"outcome"},
		),
		Disqualifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenpipe_disqualifications_total",
				Help: "Conversations blocked, by reason",
			},
			[]string{"reason"},
		),
		StepAdvances: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenpipe_step_advances_total",
				Help: "Interview step advances, by the step entered",
			},
			[]string{"step"},
		),
		FAQAnswers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenpipe_faq_answers_total",
				Help: "FAQ interceptions, by topic key",
			},
			[]string{"key"},
		),
		Completions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "screenpipe_interviews_completed_total",
				Help: "Interviews that reached the end of the step sequence",
			},
		),
		NotifyFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenpipe_notify_failures_total",
				Help: "Completion notifications that could not be delivered",
			},
			[]string{"notifier"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Message(outcome string) {
	if m == nil {
		return
	}
	m.MessagesProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Disqualified(reason string) {
	if m == nil {
		return
	}
	m.Disqualifications.WithLabelValues(reason).Inc()
}

func (m *Metrics) Advanced(step string) {
	if m == nil {
		return
	}
	m.StepAdvances.WithLabelValues(step).Inc()
}

func (m *Metrics) FAQ(key string) {
	if m == nil {
		return
	}
	m.FAQAnswers.WithLabelValues(key).Inc()
}

func (m *Metrics) Completed() {
	if m == nil {
		return
	}
	m.Completions.Inc()
}

func (m *Metrics) NotifyFailed(notifier string) {
	if m == nil {
		return
	}
	m.NotifyFailures.WithLabelValues(notifier).Inc()
}
