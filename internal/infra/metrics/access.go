package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(accessGrantsTotal) }

var accessGrantsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "access_grants_total",
		Help: "Community access grant attempts by outcome.",
	},
	[]string{"outcome"},
)

func IncAccessGrant(outcome string) {
	accessGrantsTotal.WithLabelValues(norm(outcome)).Inc()
}
