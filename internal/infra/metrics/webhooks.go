package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhookRequestsTotal) }

var webhookRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_requests_total",
		Help: "Provider webhook deliveries by verification outcome.",
	},
	[]string{"provider", "result"}, // result: 'ok', 'duplicate', 'bad_signature', 'not_found', 'malformed', 'error'
)

func IncWebhook(provider, result string) {
	webhookRequestsTotal.WithLabelValues(norm(provider), norm(result)).Inc()
}
