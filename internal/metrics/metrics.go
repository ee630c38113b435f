// Package metrics provides Prometheus instrumentation for the Workpay platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workpay",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workpay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransactionsTotal counts escrow transactions by final status.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workpay",
			Name:      "transactions_total",
			Help:      "Total escrow transactions recorded by status.",
		},
		[]string{"status"},
	)

	// EscrowHeldAmount tracks minor units currently held in escrow.
	EscrowHeldAmount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "workpay",
			Name:      "escrow_held_minor_units",
			Help:      "Total minor-currency-units currently held in escrow.",
		},
	)

	// EscrowReleasedTotal counts escrow releases to freelancers.
	EscrowReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workpay",
		Name:      "escrow_released_total",
		Help:      "Total escrow releases to freelancers.",
	})

	// EscrowRefundedTotal counts full refunds to clients.
	EscrowRefundedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workpay",
		Name:      "escrow_refunded_total",
		Help:      "Total escrow refunds to clients.",
	})

	// EscrowAutoReleasedTotal counts timer-driven releases past the hold window.
	EscrowAutoReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workpay",
		Name:      "escrow_auto_released_total",
		Help:      "Total escrows auto-released after the hold window.",
	})

	// EscrowDuration observes time from escrow hold to resolution.
	EscrowDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "workpay",
		Name:      "escrow_duration_seconds",
		Help:      "Time from escrow hold to release or refund in seconds.",
		Buckets:   []float64{3600, 21600, 86400, 259200, 604800, 1209600, 2592000},
	})

	// CommissionCollectedTotal sums platform commission in minor units.
	CommissionCollectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workpay",
		Name:      "commission_collected_minor_units_total",
		Help:      "Total platform commission collected in minor currency units.",
	})

	// MilestoneTransitionsTotal counts milestone status transitions.
	MilestoneTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workpay",
			Name:      "milestone_transitions_total",
			Help:      "Milestone status transitions by target status.",
		},
		[]string{"to_status"},
	)

	// GatewayCallsTotal counts payment-gateway calls by operation and result.
	GatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workpay",
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// NotificationDeliveriesTotal counts notification delivery attempts by result.
	NotificationDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workpay",
			Name:      "notification_deliveries_total",
			Help:      "Total notification deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "workpay",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workpay", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workpay", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workpay", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workpay", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionsTotal,
		EscrowHeldAmount,
		EscrowReleasedTotal,
		EscrowRefundedTotal,
		EscrowAutoReleasedTotal,
		EscrowDuration,
		CommissionCollectedTotal,
		MilestoneTransitionsTotal,
		GatewayCallsTotal,
		NotificationDeliveriesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
