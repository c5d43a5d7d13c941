package monitoring

import (
	"time"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.MetricsRecorder.
type PrometheusCollector struct {
	identitiesOnline prometheus.Gauge
	attachesTotal    prometheus.Counter
	callsActive      prometheus.Gauge
	callsStarted     prometheus.Counter

	callsEnded   *prometheus.CounterVec
	callsRefused *prometheus.CounterVec
	relayed      *prometheus.CounterVec
	dropped      *prometheus.CounterVec

	callSetup    prometheus.Histogram
	callDuration prometheus.Histogram

	storeBreakerState prometheus.Gauge
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the signaling metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		identitiesOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ringline_identities_online",
			Help: "Number of identities with an attached connection",
		}),

		attachesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ringline_attaches_total",
			Help: "Total number of presence attaches",
		}),

		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ringline_calls_active",
			Help: "Call sessions currently ringing or connected",
		}),

		callsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ringline_calls_started_total",
			Help: "Total number of call sessions created",
		}),

		callsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ringline_calls_ended_total",
			Help: "Call sessions ended, by reason",
		}, []string{"reason"}),

		callsRefused: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ringline_calls_refused_total",
			Help: "Call initiations refused before ringing, by reason",
		}, []string{"reason"}),

		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ringline_signals_relayed_total",
			Help: "Signals delivered to a connected recipient, by type",
		}, []string{"type"}),

		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ringline_signals_dropped_total",
			Help: "Signals dropped without delivery, by type and reason",
		}, []string{"type", "reason"}),

		callSetup: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ringline_call_setup_seconds",
			Help:    "Time from initiate to accept",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ringline_call_duration_seconds",
			Help:    "Connected call duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		storeBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ringline_contact_store_breaker_state",
			Help: "Contact store circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
	}
}

func (p *PrometheusCollector) RecordAttach() {
	p.identitiesOnline.Inc()
	p.attachesTotal.Inc()
}

func (p *PrometheusCollector) RecordDetach() {
	p.identitiesOnline.Dec()
}

func (p *PrometheusCollector) RecordCallStarted() {
	p.callsStarted.Inc()
	p.callsActive.Inc()
}

func (p *PrometheusCollector) RecordCallConnected(setup time.Duration) {
	p.callSetup.Observe(setup.Seconds())
}

// RecordCallEnded observes duration only for calls that connected.
func (p *PrometheusCollector) RecordCallEnded(reason domain.EndReason, duration time.Duration) {
	p.callsActive.Dec()
	p.callsEnded.WithLabelValues(string(reason)).Inc()
	if duration > 0 {
		p.callDuration.Observe(duration.Seconds())
	}
}

func (p *PrometheusCollector) RecordCallRefused(reason string) {
	p.callsRefused.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordRelayed(t domain.SignalType) {
	p.relayed.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) RecordDropped(t domain.SignalType, reason string) {
	p.dropped.WithLabelValues(string(t), reason).Inc()
}

func (p *PrometheusCollector) SetStoreBreakerState(state int) {
	p.storeBreakerState.Set(float64(state))
}
