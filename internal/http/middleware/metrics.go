package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that hit no registered route, so scanners
// probing random URLs share a single series.
const unmatchedRoute = "unmatched"

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moviereviews_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// status is left off the histograms to bound their series count
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moviereviews_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.ExponentialBuckets(0.002, 2, 12), // 2ms..4s
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moviereviews_http_requests_inflight",
			Help: "HTTP requests currently being served.",
		},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moviereviews_http_response_size_bytes",
			Help:    "HTTP response body size by method and route.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8), // 256B..4MiB
		},
		[]string{"method", "path"},
	)

	httpReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moviereviews_http_idempotent_replays_total",
			Help: "Keyed create requests answered from a stored result, by resource kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, httpReplays)
}

// ObserveReplay counts a keyed request replayed instead of executed. kind is
// the resource ("review", "watchlist").
func ObserveReplay(kind string) {
	httpReplays.WithLabelValues(kind).Inc()
}

// routeLabel is the registered route template, never the raw URL.
func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

// Metrics records request count, latency, in-flight concurrency and
// response size. Mount it before the /metrics route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInflight.Inc()
		start := time.Now()
		defer httpInflight.Dec()

		c.Next()

		method, path := c.Request.Method, routeLabel(c)
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(n))
		}
	}
}
