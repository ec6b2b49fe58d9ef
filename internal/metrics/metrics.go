package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autoflow_ticks_total",
		Help: "调度 tick 总数",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autoflow_tick_duration_seconds",
		Help:    "单次 tick 处理全部规则的耗时",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoflow_executions_total",
		Help: "执行记录总数（按结果）",
	}, []string{"result"})

	ActionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autoflow_action_duration_seconds",
		Help:    "单条规则评估与动作执行耗时",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	DiagnosticsRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autoflow_diagnostics_runs_total",
		Help: "诊断运行次数",
	})

	HealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "autoflow_health_score",
		Help: "自动化健康分（0-100）",
	}, []string{"automation_id"})

	RecommendationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoflow_recommendations_total",
		Help: "顾问生成的推荐数（按模板）",
	}, []string{"template_id"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoflow_events_dropped_total",
		Help: "事件源读取失败或丢弃的事件批次",
	}, []string{"source"})
)

// eventDropStats mirrors the dropped-events counter for in-process
// exposition (health endpoint, CLI).
type eventDropStats struct {
	total    uint64
	mu       sync.Mutex
	bySource map[string]uint64
}

var drops eventDropStats

// IncEventDrop counts a dropped event batch for source.
// Use source "unknown" when the origin is not known.
func IncEventDrop(source string) {
	if source == "" {
		source = "unknown"
	}
	eventsDropped.WithLabelValues(source).Inc()
	atomic.AddUint64(&drops.total, 1)
	drops.mu.Lock()
	if drops.bySource == nil {
		drops.bySource = make(map[string]uint64)
	}
	drops.bySource[source]++
	drops.mu.Unlock()
}

// EventDropSnapshot returns a copy of the current counters.
func EventDropSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&drops.total)
	drops.mu.Lock()
	defer drops.mu.Unlock()
	by = make(map[string]uint64, len(drops.bySource))
	for k, v := range drops.bySource {
		by[k] = v
	}
	return total, by
}

// ObserveExecution records one execution record's result and duration.
func ObserveExecution(result string, seconds float64) {
	ExecutionsTotal.WithLabelValues(result).Inc()
	ActionDuration.Observe(seconds)
}
