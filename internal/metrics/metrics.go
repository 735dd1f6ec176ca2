// Package metrics holds the Prometheus collectors of the broker. They are
// registered with the default registry and served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishTotal counts publish attempts by outcome.
	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slotbroker",
		Name:      "publish_total",
		Help:      "Slot publish attempts by result.",
	}, []string{"result"})

	// BookingTotal counts booking state transitions by operation and outcome.
	BookingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slotbroker",
		Name:      "booking_total",
		Help:      "Booking operations by op and result.",
	}, []string{"op", "result"})

	// AlertNotifications counts alert deliveries per channel.
	AlertNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slotbroker",
		Name:      "alert_notifications_total",
		Help:      "Alert notifications by channel and result.",
	}, []string{"channel", "result"})

	// ResyncAttempts observes how many reads the quota resync needed.
	ResyncAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "slotbroker",
		Name:      "quota_resync_attempts",
		Help:      "Attempts used by the quota resync read.",
		Buckets:   []float64{1, 2, 3, 5, 8},
	})
)

// Result maps an error to a metric label.
func Result(err error, reason func(error) string) string {
	if err == nil {
		return "ok"
	}
	if r := reason(err); r != "" {
		return r
	}
	return "error"
}
