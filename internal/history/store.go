package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

type Store struct {
	path string
	db   *sql.DB
}

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("history path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("history path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory %q: %w", dir, err)
		}
	}

	// busy_timeout + WAL reduce lock conflicts during watch-mode churn.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite history %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun records one merge attempt. A missing ID or timestamp gets
// filled in.
func (s *Store) SaveRun(run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}

	_, err := s.db.Exec(`
INSERT INTO runs (id, ts_utc, entry, root, status, error, module_count, symbol_count, bundle_bytes, audit_findings, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		run.ID,
		run.Timestamp.UTC().Format(time.RFC3339Nano),
		run.Entry,
		run.Root,
		run.Status,
		run.Error,
		run.ModuleCount,
		run.SymbolCount,
		run.BundleBytes,
		run.AuditFindings,
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return Run{}, fmt.Errorf("save run: %w", err)
	}
	return run, nil
}

// RecentRuns returns the latest runs for an entry, newest first.
func (s *Store) RecentRuns(entry string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
SELECT id, ts_utc, entry, root, status, error, module_count, symbol_count, bundle_bytes, audit_findings, duration_ms
FROM runs
WHERE entry = ?
ORDER BY ts_utc DESC
LIMIT ?
`, entry, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Trend returns successful runs for an entry since a point in time,
// oldest first, with deltas against the preceding run.
func (s *Store) Trend(entry string, since time.Time) ([]TrendPoint, error) {
	rows, err := s.db.Query(`
SELECT id, ts_utc, entry, root, status, error, module_count, symbol_count, bundle_bytes, audit_findings, duration_ms
FROM runs
WHERE entry = ? AND status = ? AND ts_utc >= ?
ORDER BY ts_utc ASC
`, entry, StatusOK, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query trend: %w", err)
	}
	defer rows.Close()

	var points []TrendPoint
	var prev *Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		point := TrendPoint{
			Timestamp:   run.Timestamp,
			ModuleCount: run.ModuleCount,
			SymbolCount: run.SymbolCount,
			BundleBytes: run.BundleBytes,
			DurationMs:  run.Duration.Milliseconds(),
		}
		if prev != nil {
			point.DeltaModules = run.ModuleCount - prev.ModuleCount
			point.DeltaSymbols = run.SymbolCount - prev.SymbolCount
			point.DeltaBytes = run.BundleBytes - prev.BundleBytes
		}
		r := run
		prev = &r
		points = append(points, point)
	}
	return points, rows.Err()
}

func scanRun(rows *sql.Rows) (Run, error) {
	var run Run
	var ts string
	var durationMs int64
	if err := rows.Scan(&run.ID, &ts, &run.Entry, &run.Root, &run.Status, &run.Error,
		&run.ModuleCount, &run.SymbolCount, &run.BundleBytes, &run.AuditFindings, &durationMs); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Run{}, fmt.Errorf("parse run timestamp %q: %w", ts, err)
	}
	run.Timestamp = parsed
	run.Duration = time.Duration(durationMs) * time.Millisecond
	return run, nil
}
