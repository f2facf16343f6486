package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChecksTotal        *prometheus.CounterVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	MutationsTotal     *prometheus.CounterVec
	GateFallbacksTotal *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	TasksProcessed     *prometheus.CounterVec
	TaskRetriesTotal   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatelist_checks_total",
			Help: "Total whitelist membership checks, by lookup kind and outcome",
		}, []string{"kind", "outcome"}),
		CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatelist_cache_hits_total",
			Help: "Total membership checks served from the identity cache",
		}),
		CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatelist_cache_misses_total",
			Help: "Total membership checks that fell through to the store",
		}),
		MutationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatelist_mutations_total",
			Help: "Total whitelist mutations, by operation and result",
		}, []string{"operation", "result"}),
		GateFallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatelist_gate_fallbacks_total",
			Help: "Gate decisions resolved by the timeout fallback policy",
		}, []string{"policy"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gatelist_queue_depth",
			Help: "Current number of pending sync tasks",
		}),
		TasksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatelist_tasks_processed_total",
			Help: "Sync tasks processed by the coordinator, by type and result",
		}, []string{"type", "result"}),
		TaskRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatelist_task_retries_total",
			Help: "Sync tasks requeued by the retry strategy",
		}),
	}
}

func (m *Metrics) RecordCheck(kind string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.ChecksTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RecordCacheHit()  { m.CacheHitsTotal.Inc() }
func (m *Metrics) RecordCacheMiss() { m.CacheMissesTotal.Inc() }

func (m *Metrics) RecordMutation(operation string, ok bool) {
	result := "rejected"
	if ok {
		result = "applied"
	}
	m.MutationsTotal.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) RecordGateFallback(policy string) {
	m.GateFallbacksTotal.WithLabelValues(policy).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) RecordTask(taskType, result string) {
	m.TasksProcessed.WithLabelValues(taskType, result).Inc()
}

func (m *Metrics) RecordTaskRetry() { m.TaskRetriesTotal.Inc() }
