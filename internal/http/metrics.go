package http

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP request metrics.
type Metrics struct {
	Requests       *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	ActiveRequests prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics registers the HTTP metrics with the default registry once
// and returns them.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			Requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "specd",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status code.",
			}, []string{"method", "route", "status"}),
			Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "specd",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by method and route.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			}, []string{"method", "route"}),
			ActiveRequests: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "specd",
				Subsystem: "http",
				Name:      "active_requests",
				Help:      "HTTP requests in flight.",
			}),
		}
	})
	return metrics
}

// Middleware records request metrics. Routes are labelled by their
// registered pattern, so path parameters do not add series.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status, _ = toResponse(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.Duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
