package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReserveDuration tracks the latency of number reservations
	ReserveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "rifa_reserve_duration_seconds",
			Help: "Duration of raffle reservation requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
			},
		},
		[]string{"status"}, // success, unavailable, invalid or failed
	)

	// TicketsExpired counts tickets released by the expiry sweeper
	TicketsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rifa_tickets_expired_total",
			Help: "Number of pending tickets deleted after the payment window",
		},
	)

	// DrawsCommitted counts successfully committed prize draws
	DrawsCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rifa_draws_committed_total",
			Help: "Number of prize draws that committed a winner",
		},
	)
)

// RecordReserveDuration records the duration of one reservation request
func RecordReserveDuration(status string, duration float64) {
	ReserveDuration.WithLabelValues(status).Observe(duration)
}
