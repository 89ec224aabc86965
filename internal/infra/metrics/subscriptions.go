package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(subscriptionEventsTotal, activeSubscriptions) }

var (
	subscriptionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_events_total",
			Help: "Subscription lifecycle events.",
		},
		[]string{"event"}, // 'activated', 'past_due'
	)

	activeSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscriptions_active",
			Help: "Current number of active subscriptions, updated by the sweep.",
		},
	)
)

func IncSubscriptionEvent(event string) {
	subscriptionEventsTotal.WithLabelValues(norm(event)).Inc()
}

func SetActiveSubscriptions(n int) {
	activeSubscriptions.Set(float64(n))
}
