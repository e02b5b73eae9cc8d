package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "credits"

// PrometheusRecorder exports metrics to a Prometheus registry.
type PrometheusRecorder struct {
	debits           *prometheus.CounterVec
	resets           *prometheus.CounterVec
	grants           prometheus.Counter
	conflicts        *prometheus.CounterVec
	supersededWrites *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	storeDuration    *prometheus.HistogramVec
	usagePublished   *prometheus.CounterVec
	usageProcessed   *prometheus.CounterVec
	usageQueueDepth  prometheus.Gauge
	usageBatchSize   prometheus.Histogram
	usageBatchTime   prometheus.Histogram
	rateLimited      *prometheus.CounterVec
}

// NewPrometheus registers the collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	f := promauto.With(reg)
	return &PrometheusRecorder{
		debits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debits_total",
			Help:      "Debit attempts by outcome",
		}, []string{"outcome"}),
		resets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Daily allowance resets applied",
		}, []string{"trigger"}),
		grants: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_total",
			Help:      "Development credit top-ups",
		}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_conflicts_total",
			Help:      "Conditional writes that lost to a concurrent writer",
		}, []string{"operation"}),
		supersededWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "superseded_writes_total",
			Help:      "Writes overwritten by a concurrent writer on stores without atomic preconditions",
		}, []string{"operation"}),
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_events_total",
			Help:      "Billing webhook events by type and outcome",
		}, []string{"type", "outcome"}),
		storeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Record store call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		usagePublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_events_published_total",
			Help:      "Usage stream publishes by status",
		}, []string{"status"}),
		usageProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_events_processed_total",
			Help:      "Usage stream entries handled by the rollup worker",
		}, []string{"status"}),
		usageQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_queue_depth",
			Help:      "Pending plus unread entries for the rollup consumer group",
		}),
		usageBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usage_batch_size",
			Help:      "Entries per committed rollup batch",
			Buckets:   []float64{1, 10, 50, 100, 250, 500},
		}),
		usageBatchTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usage_batch_duration_seconds",
			Help:      "Time to persist a rollup batch",
			Buckets:   prometheus.DefBuckets,
		}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by rate limiting",
		}, []string{"scope"}),
	}
}

func (p *PrometheusRecorder) IncDebit(outcome string) { p.debits.WithLabelValues(outcome).Inc() }

func (p *PrometheusRecorder) IncReset(trigger string) { p.resets.WithLabelValues(trigger).Inc() }

func (p *PrometheusRecorder) IncGrant() { p.grants.Inc() }

func (p *PrometheusRecorder) IncConflict(operation string) {
	p.conflicts.WithLabelValues(operation).Inc()
}

func (p *PrometheusRecorder) IncSupersededWrite(operation string) {
	p.supersededWrites.WithLabelValues(operation).Inc()
}

func (p *PrometheusRecorder) IncWebhookEvent(eventType, outcome string) {
	p.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveStoreDuration(operation string, duration time.Duration) {
	p.storeDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncUsagePublished(status string) {
	p.usagePublished.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncUsageProcessed(status string) {
	p.usageProcessed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) SetUsageQueueDepth(depth int64) {
	p.usageQueueDepth.Set(float64(depth))
}

func (p *PrometheusRecorder) ObserveUsageBatch(size int, duration time.Duration) {
	p.usageBatchSize.Observe(float64(size))
	p.usageBatchTime.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncRateLimited(scope string) {
	p.rateLimited.WithLabelValues(scope).Inc()
}
