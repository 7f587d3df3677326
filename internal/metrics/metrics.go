// Package metrics holds the process-wide Prometheus collectors, exposed on
// the bridge's /metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CheckCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cptbot",
		Name:      "check_cycles_total",
		Help:      "Number of CPT check cycles started (scheduled and manual)",
	})
	FetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cptbot",
		Name:      "fetch_errors_total",
		Help:      "Number of failed training API fetches",
	})
	NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cptbot",
		Name:      "notifications_sent_total",
		Help:      "Number of CPT notifications delivered, by stage",
	}, []string{"stage"})
	NotificationsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cptbot",
		Name:      "notifications_failed_total",
		Help:      "Number of CPT notification deliveries that failed",
	})
	BridgeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cptbot",
		Name:      "bridge_requests_total",
		Help:      "Number of inbound bridge requests, by response status",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(
		CheckCycles, FetchErrors,
		NotificationsSent, NotificationsFailed,
		BridgeRequests,
	)
}
