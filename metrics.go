package llmprovider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the stream counters. A nil *Metrics records nothing.
type Metrics struct {
	StreamsTotal     *prometheus.CounterVec   // Streams by provider and outcome
	EventsTotal      *prometheus.CounterVec   // Canonical events by provider and type
	ErrorsTotal      *prometheus.CounterVec   // Terminal errors by provider and kind
	TokensTotal      *prometheus.CounterVec   // Tokens by provider and direction
	TimeToFirstEvent *prometheus.HistogramVec // Seconds from stream open to first event
	RetryAttempts    *prometheus.CounterVec   // Stream establishment retries by provider
}

// NewMetrics creates and registers all metrics on registry, or on the
// default registerer when registry is nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmstream_streams_total",
				Help: "Total number of streams by outcome",
			},
			[]string{"provider", "outcome"},
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmstream_events_total",
				Help: "Total canonical events emitted",
			},
			[]string{"provider", "type"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmstream_errors_total",
				Help: "Total terminal stream errors by kind",
			},
			[]string{"provider", "kind"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmstream_tokens_total",
				Help: "Total tokens reported in final usage",
			},
			[]string{"provider", "direction"},
		),

		TimeToFirstEvent: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmstream_time_to_first_event_seconds",
				Help:    "Time from stream open to the first canonical event",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),

		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmstream_retry_attempts_total",
				Help: "Total retries while opening a stream",
			},
			[]string{"provider"},
		),
	}
}

func (m *Metrics) observeEvent(provider string, ev Event) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(provider, string(ev.EventType())).Inc()

	switch e := ev.(type) {
	case MessageDelta:
		if e.Usage != nil {
			m.TokensTotal.WithLabelValues(provider, "input").Add(float64(e.Usage.Prompt()))
			m.TokensTotal.WithLabelValues(provider, "output").Add(float64(e.Usage.Completion()))
		}
	case MessageStop:
		m.StreamsTotal.WithLabelValues(provider, "completed").Inc()
	case ErrorEvent:
		m.StreamsTotal.WithLabelValues(provider, "failed").Inc()
		m.ErrorsTotal.WithLabelValues(provider, e.Kind.String()).Inc()
	}
}

func (m *Metrics) observeFirstEvent(provider string, since time.Time) {
	if m == nil {
		return
	}
	m.TimeToFirstEvent.WithLabelValues(provider).Observe(time.Since(since).Seconds())
}

func (m *Metrics) observeCancel(provider string) {
	if m == nil {
		return
	}
	m.StreamsTotal.WithLabelValues(provider, "cancelled").Inc()
}

func (m *Metrics) observeRetry(provider string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(provider).Inc()
}
