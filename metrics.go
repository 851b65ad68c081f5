package blogdesk

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogdesk_http_requests_total",
			Help: "Total HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blogdesk_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	assetOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogdesk_asset_operations_total",
			Help: "Asset store operations by kind and result.",
		},
		[]string{"op", "result"},
	)

	blogViewsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogdesk_blog_views_total",
		Help: "Blog record views counted.",
	})
)

func observeAsset(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	assetOperationsTotal.WithLabelValues(op, result).Inc()
}

// metricsMiddleware records request counts and latency. Routes are labeled by
// their registered pattern so ids do not inflate cardinality.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Response().Status)
		httpRequestsTotal.WithLabelValues(c.Request().Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
		return nil
	}
}

func metricsHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
