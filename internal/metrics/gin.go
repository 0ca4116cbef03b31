package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "resumeforge"

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP 请求耗时分布（秒）。模型调用与 PDF 渲染接口耗时较长，桶上限放宽到 2 分钟。",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status_class"},
	)

	requestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "当前正在处理的 HTTP 请求数量，按路由分组。",
		},
		[]string{"route"},
	)
)

// GinMiddleware 采集 HTTP 指标。/metrics 与 /health 自身不计入。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 未匹配路由统一归为 unmatched，避免任意路径撑爆标签基数
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if strings.HasSuffix(route, "/metrics") || strings.HasSuffix(route, "/health") {
			c.Next()
			return
		}

		inFlight := requestsInFlight.WithLabelValues(route)
		inFlight.Inc()
		start := time.Now()

		c.Next()

		inFlight.Dec()
		requestDuration.WithLabelValues(c.Request.Method, route, statusClass(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// statusClass 把状态码折叠为 2xx/4xx/5xx。
func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
