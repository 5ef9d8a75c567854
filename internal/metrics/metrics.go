// Package metrics holds the Prometheus collectors for the raffle service.
//
// Registers:
//
//	raffle_entries_total, raffle_entry_rejections_total, raffle_players
//	raffle_upkeeps_total, raffle_winners_total, raffle_prize_ether_total
//	raffle_vrf_requests_total, raffle_vrf_fulfillments_total, raffle_vrf_pending_requests
//	raffle_keeper_runs_total
//	raffle_http_requests_total, raffle_http_request_duration_seconds
//	raffle_webhooks_received_total, raffle_health_checks_total, raffle_dependency_status
//	raffle_ws_clients
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector. Build one per registry.
type Metrics struct {
	Entries         *prometheus.CounterVec
	EntryRejections *prometheus.CounterVec
	Players         *prometheus.GaugeVec
	Upkeeps         *prometheus.CounterVec
	Winners         *prometheus.CounterVec
	PrizeEther      *prometheus.CounterVec

	VRFRequests     *prometheus.CounterVec
	VRFFulfillments *prometheus.CounterVec
	VRFPending      prometheus.Gauge

	KeeperRuns *prometheus.CounterVec

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	WebhooksReceived *prometheus.CounterVec
	HealthChecks     *prometheus.CounterVec
	DependencyStatus *prometheus.GaugeVec
	WSClients        prometheus.Gauge
}

// New registers all collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Entries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_entries_total",
				Help: "Total number of accepted raffle entries",
			},
			[]string{"raffle"},
		),
		EntryRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_entry_rejections_total",
				Help: "Total number of rejected raffle entries by error code",
			},
			[]string{"raffle", "code"},
		),
		Players: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "raffle_players",
				Help: "Current number of entrants in the open round",
			},
			[]string{"raffle"},
		),
		Upkeeps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_upkeeps_total",
				Help: "Total number of performUpkeep attempts by result",
			},
			[]string{"raffle", "result"},
		),
		Winners: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_winners_total",
				Help: "Total number of resolved rounds",
			},
			[]string{"raffle"},
		),
		PrizeEther: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_prize_ether_total",
				Help: "Total ether paid out to winners",
			},
			[]string{"raffle"},
		),
		VRFRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_vrf_requests_total",
				Help: "Total number of randomness requests by status",
			},
			[]string{"status"},
		),
		VRFFulfillments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_vrf_fulfillments_total",
				Help: "Total number of randomness fulfillments by callback outcome",
			},
			[]string{"success"},
		),
		VRFPending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "raffle_vrf_pending_requests",
				Help: "Current number of unfulfilled randomness requests",
			},
		),
		KeeperRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_keeper_runs_total",
				Help: "Total number of keeper ticks by result",
			},
			[]string{"result"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "raffle_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),
		WebhooksReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_webhooks_received_total",
				Help: "Total number of oracle webhooks received by match result",
			},
			[]string{"matched"},
		),
		HealthChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_health_checks_total",
				Help: "Total number of health/readiness checks by status",
			},
			[]string{"type", "status"},
		),
		DependencyStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "raffle_dependency_status",
				Help: "Status of dependencies (1=up, 0.5=degraded, 0=down)",
			},
			[]string{"dependency"},
		),
		WSClients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "raffle_ws_clients",
				Help: "Current number of websocket event subscribers",
			},
		),
	}
}

// Discard returns collectors bound to a private registry, for tests and
// components constructed without metrics
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
