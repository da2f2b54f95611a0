// Package metrics provides Prometheus instrumentation for the economy
// engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementTicks counts completed settlement ticks.
	SettlementTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tycoon_settlement_ticks_total",
		Help: "Total number of completed settlement ticks",
	})

	// SettlementUnitsSold counts units sold across all ticks.
	SettlementUnitsSold = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tycoon_settlement_units_sold_total",
		Help: "Total units sold by the settlement engine",
	})

	// SettlementSpent accumulates the amount the simulated demand spent.
	SettlementSpent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tycoon_settlement_spent_total",
		Help: "Total currency spent by the settlement engine",
	})

	// SettlementDuration tracks tick wall time.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tycoon_settlement_duration_seconds",
		Help:    "Settlement tick duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// CompaniesListed counts private→public transitions.
	CompaniesListed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tycoon_companies_listed_total",
		Help: "Companies that went public",
	})

	// UpgradeUses counts applied upgrade effects by kind.
	UpgradeUses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tycoon_upgrade_uses_total",
		Help: "Upgrade effects applied",
	}, []string{"kind"})

	// HTTPRequests counts API requests by method, path, and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tycoon_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})
)

// Handler exposes the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
