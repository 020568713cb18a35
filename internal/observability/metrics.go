// Package observability holds the prometheus metrics, trace wiring
// and the HTTP endpoint serving them.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pysymphony_merge_seconds",
		Help:    "Time spent producing one bundle.",
		Buckets: prometheus.DefBuckets,
	})

	MergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pysymphony_merges_total",
		Help: "Total merge runs by outcome.",
	}, []string{"status"})

	ModulesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pysymphony_modules_loaded",
		Help: "Modules loaded during the last merge.",
	})

	SymbolsEmitted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pysymphony_symbols_emitted",
		Help: "Symbols retained in the last bundle.",
	})

	AuditFindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pysymphony_audit_findings_total",
		Help: "Audit findings by kind across all runs.",
	}, []string{"kind"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pysymphony_watcher_events_total",
		Help: "File system events received by the watcher.",
	})

	WatcherRebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pysymphony_watcher_rebuilds_total",
		Help: "Rebuilds triggered from watch mode.",
	})
)
