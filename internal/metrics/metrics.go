package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postcode_polygons_tasks_total",
		Help: "Batch tasks finished, by phase and status",
	}, []string{"phase", "status"})
	TaskDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postcode_polygons_task_duration_ms",
		Help:    "Batch task duration in milliseconds",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 60000, 300000},
	}, []string{"phase"})
	FeaturesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postcode_polygons_features_written_total",
		Help: "Features written to output files, by level",
	}, []string{"level"})
	DroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postcode_polygons_dropped_total",
		Help: "Entities or per-region pieces dropped, by reason",
	}, []string{"reason"})
	RepairsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postcode_polygons_repairs_total",
		Help: "Reprojected polygons that failed validity and went through repair",
	})
	ClipsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postcode_polygons_clip_decisions_total",
		Help: "Clip decisions, by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskDurationMs)
	prometheus.MustRegister(FeaturesWritten)
	prometheus.MustRegister(DroppedTotal)
	prometheus.MustRegister(RepairsTotal)
	prometheus.MustRegister(ClipsTotal)
}

// 文档注释：返回 Prometheus 指标处理器
// 背景：批处理运行时间长，设置 METRICS_ADDR 时在主入口挂载 /metrics 供抓取。
func Handler() http.Handler { return promhttp.Handler() }
