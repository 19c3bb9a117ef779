package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clanstats",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by outcome (hit, partial, miss).",
		},
		[]string{"cache", "result"},
	)

	upstreamFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clanstats",
			Subsystem: "cache",
			Name:      "upstream_fetches_total",
			Help:      "Upstream fetches for missing periods by outcome (ok, error, forbidden).",
		},
		[]string{"cache", "outcome"},
	)

	recordsStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clanstats",
			Subsystem: "cache",
			Name:      "records_stored_total",
			Help:      "Records newly written to the backend.",
		},
		[]string{"cache"},
	)

	refreshDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clanstats",
			Subsystem: "cache",
			Name:      "refresh_decisions_total",
			Help:      "Refresh policy decisions by trigger (recent, backfill, fresh, forbidden).",
		},
		[]string{"cache", "trigger"},
	)
)

func init() {
	prometheus.MustRegister(lookupsTotal, upstreamFetchesTotal, recordsStoredTotal, refreshDecisionsTotal)
}
