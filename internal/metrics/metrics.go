package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Placement outcomes used as the "outcome" label.
const (
	OutcomeCreated           = "created"
	OutcomeInvalid           = "invalid"
	OutcomeProductNotFound   = "product_not_found"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeStorageError      = "storage_error"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "route"},
	)

	PlacementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_placements_total",
			Help: "Order placement attempts by outcome",
		},
		[]string{"outcome"},
	)

	PlacementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orders_placement_duration_seconds",
			Help:    "Duration of the placement transaction including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeadlockRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_deadlock_retries_total",
			Help: "Placements retried after the backend reported a deadlock",
		},
	)

	OutOfStockTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockwatch_out_of_stock_total",
			Help: "Products observed at zero stock after an order",
		},
		[]string{"product_id"},
	)
)

func ObservePlacement(outcome string, start time.Time) {
	PlacementsTotal.WithLabelValues(outcome).Inc()
	PlacementDuration.Observe(time.Since(start).Seconds())
}

// Middleware records request count and latency per chi route pattern.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			RequestsTotal.WithLabelValues(service, r.Method, route, strconv.Itoa(status)).Inc()
			RequestDuration.WithLabelValues(service, r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
