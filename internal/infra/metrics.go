package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace string = "riddle_bot"

// Metrics is safe to use through a nil pointer; every recorder is then a no-op.
type Metrics struct {
	RiddlesPublished   prometheus.Counter
	GenerationFailures *prometheus.CounterVec
	FallbackRiddles    prometheus.Counter
	AIRequests         *prometheus.CounterVec
	WinnersHandled     prometheus.Counter
	ChainEvents        *prometheus.CounterVec
	RequestCounter     *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RiddlesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "game",
			Name:      "riddles_published_total",
			Help:      "Riddles published on chain",
		}),
		GenerationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "game",
			Name:      "generation_failures_total",
			Help:      "Riddle generations that did not publish, by reason",
		}, []string{"reason"}),
		FallbackRiddles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ai",
			Name:      "fallback_riddles_total",
			Help:      "Riddles served from the fallback pool",
		}),
		AIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Chat completion requests, by prompt and outcome",
		}, []string{"prompt", "outcome"}),
		WinnersHandled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "game",
			Name:      "winners_handled_total",
			Help:      "Winner notifications handled",
		}),
		ChainEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chain",
			Name:      "events_total",
			Help:      "Contract events received, by event name",
		}, []string{"event"}),
		RequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) RiddlePublished() {
	if m == nil {
		return
	}
	m.RiddlesPublished.Inc()
}

func (m *Metrics) GenerationFailed(reason string) {
	if m == nil {
		return
	}
	m.GenerationFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) FallbackServed() {
	if m == nil {
		return
	}
	m.FallbackRiddles.Inc()
}

func (m *Metrics) AIRequest(prompt string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.AIRequests.WithLabelValues(prompt, outcome).Inc()
}

func (m *Metrics) WinnerHandled() {
	if m == nil {
		return
	}
	m.WinnersHandled.Inc()
}

func (m *Metrics) ChainEvent(name string) {
	if m == nil {
		return
	}
	m.ChainEvents.WithLabelValues(name).Inc()
}

func (m *Metrics) ObserveRequest(method string, route string, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(seconds)
}
