package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "模型调用总数，按操作与结果分类。",
		},
		[]string{"operation", "outcome"},
	)

	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "模型调用耗时分布（秒）。",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 120},
		},
		[]string{"operation"},
	)

	previewRendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "renders_total",
			Help:      "预览渲染次数，按结果分类（ok/failed/superseded）。",
		},
		[]string{"outcome"},
	)

	ingestStagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stages_total",
			Help:      "导入流程各阶段进入次数。",
		},
		[]string{"stage"},
	)
)

// ObserveLLM records one model call. outcome is the error kind, or "ok".
func ObserveLLM(operation, outcome string, elapsed time.Duration) {
	llmRequestsTotal.WithLabelValues(operation, outcome).Inc()
	llmRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func ObservePreview(outcome string) {
	previewRendersTotal.WithLabelValues(outcome).Inc()
}

func ObserveIngestStage(stage string) {
	ingestStagesTotal.WithLabelValues(stage).Inc()
}
