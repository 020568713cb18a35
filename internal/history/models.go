// Package history persists merge runs to a local sqlite database so
// watch sessions can show how a bundle evolves over time.
package history

import "time"

const SchemaVersion = 1

const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusDirty = "audit-findings"
)

// Run is one recorded merge attempt.
type Run struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	Entry         string        `json:"entry"`
	Root          string        `json:"root"`
	Status        string        `json:"status"`
	Error         string        `json:"error,omitempty"`
	ModuleCount   int           `json:"module_count"`
	SymbolCount   int           `json:"symbol_count"`
	BundleBytes   int           `json:"bundle_bytes"`
	AuditFindings int           `json:"audit_findings"`
	Duration      time.Duration `json:"duration"`
}

// TrendPoint is a Run joined with deltas against the previous run of
// the same entry.
type TrendPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	ModuleCount  int       `json:"module_count"`
	SymbolCount  int       `json:"symbol_count"`
	BundleBytes  int       `json:"bundle_bytes"`
	DeltaModules int       `json:"delta_modules"`
	DeltaSymbols int       `json:"delta_symbols"`
	DeltaBytes   int       `json:"delta_bytes"`
	DurationMs   int64     `json:"duration_ms"`
}
