package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payments_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_transitions_total",
			Help: "Payment status transitions committed",
		},
		[]string{"transition", "from", "to"},
	)

	transitionsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_transitions_rejected_total",
			Help: "Payment operations rejected by the lifecycle graph",
		},
		[]string{"operation"},
	)

	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_webhooks_total",
			Help: "Provider webhooks received by outcome",
		},
		[]string{"provider", "outcome"},
	)

	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_provider_requests_total",
			Help: "Calls made to the payment gateway by outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)

	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payments_provider_request_duration_seconds",
			Help:    "Payment gateway call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "operation"},
	)

	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_events_published_total",
			Help: "Outbox events relayed to the event stream",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(transitionsRejectedTotal)
	prometheus.MustRegister(webhooksTotal)
	prometheus.MustRegister(providerRequestsTotal)
	prometheus.MustRegister(providerRequestDuration)
	prometheus.MustRegister(eventsPublishedTotal)
}

func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			route := ctx.Path()
			if route == "" {
				route = ctx.Request().URL.Path
			}
			status := ctx.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			httpRequestsTotal.WithLabelValues(ctx.Request().Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(ctx.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordTransition(transition, from, to string) {
	transitionsTotal.WithLabelValues(transition, from, to).Inc()
}

func RecordRejectedTransition(operation string) {
	transitionsRejectedTotal.WithLabelValues(operation).Inc()
}

func RecordWebhook(provider, outcome string) {
	webhooksTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordProviderRequest(provider, operation, outcome string, latency time.Duration) {
	providerRequestsTotal.WithLabelValues(provider, operation, outcome).Inc()
	providerRequestDuration.WithLabelValues(provider, operation).Observe(latency.Seconds())
}

func RecordEventPublished(outcome string) {
	eventsPublishedTotal.WithLabelValues(outcome).Inc()
}
