// Package metrics holds the Prometheus collectors for the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medbridge"

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	TxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "transaction_duration_seconds",
		Help:      "Duration of database transactions by operation",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"operation", "status"})

	PanicsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "panics_recovered_total",
		Help:      "Handler panics caught by the recovery middleware",
	})

	Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "total",
		Help:      "Cross-partition transfers by outcome",
	}, []string{"outcome"})

	ConsentTokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consent",
		Name:      "tokens_issued_total",
		Help:      "Consent tokens issued",
	})

	ConsentRequestsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consent",
		Name:      "requests_throttled_total",
		Help:      "Consent token requests rejected by the resend limiter",
	})

	PartitionsProvisioned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tenant",
		Name:      "partitions_provisioned_total",
		Help:      "Partition provisioning attempts by outcome",
	}, []string{"outcome"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notification",
		Name:      "sent_total",
		Help:      "Outbound notifications by channel and status",
	}, []string{"channel", "status"})
)

// ObserveTx records a finished transaction.
func ObserveTx(op string, d time.Duration, err error) {
	status := "commit"
	if err != nil {
		status = "rollback"
	}
	TxDuration.WithLabelValues(op, status).Observe(d.Seconds())
}

// Middleware records request counts and latency keyed by the route
// template, not the raw path, to bound label cardinality.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if sc, ok := err.(interface{ StatusCode() int }); ok {
				status = sc.StatusCode()
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			HTTPLatency.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
