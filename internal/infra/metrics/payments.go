package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		completionsTotal,
		duplicateConfirmationsTotal,
		renewalsTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment status transitions by method.",
		},
		[]string{"method", "status"},
	)

	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_completions_total",
			Help: "Confirmed payments by the path that delivered the confirmation.",
		},
		[]string{"source"}, // 'webhook', 'poll', 'sweep'
	)

	duplicateConfirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_duplicate_confirmations_total",
			Help: "Confirmations that arrived for an already completed payment.",
		},
		[]string{"source"},
	)

	renewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_renewals_total",
			Help: "Renewal sweep charge attempts by outcome.",
		},
		[]string{"result"}, // 'renewed', 'failed'
	)
)

func IncPayment(method, status string) {
	paymentsTotal.WithLabelValues(norm(method), norm(status)).Inc()
}

func IncCompletion(source string) {
	completionsTotal.WithLabelValues(norm(source)).Inc()
}

func IncDuplicateConfirmation(source string) {
	duplicateConfirmationsTotal.WithLabelValues(norm(source)).Inc()
}

func IncRenewal(result string) {
	renewalsTotal.WithLabelValues(norm(result)).Inc()
}
