package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wlvh/PySymphony/internal/auditor"
	"github.com/wlvh/PySymphony/internal/config"
	"github.com/wlvh/PySymphony/internal/history"
	"github.com/wlvh/PySymphony/internal/linker"
	"github.com/wlvh/PySymphony/internal/observability"
	"github.com/wlvh/PySymphony/internal/watcher"
)

type App struct {
	Config  *config.Config
	Merger  *linker.Merger
	Auditor *auditor.Auditor

	log        *slog.Logger
	store      *history.Store
	obsServer  *observability.Server
	stopTraces func(context.Context) error
	teaProgram *tea.Program
	fsWatcher  *watcher.Watcher

	// runMu serializes merges; watcher callbacks may overlap the
	// initial run.
	runMu sync.Mutex

	healthMu  sync.Mutex
	lastMerge time.Time
	lastError string
}

// runResult carries everything one merge attempt produced.
type runResult struct {
	Err      error
	Report   *auditor.Report
	Stats    linker.Stats
	Duration time.Duration
	Bytes    int
}

func NewApp(cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Merger:  linker.NewMerger(log),
		Auditor: auditor.New(log),
		log:     log,
	}

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	if cfg.Observability.OTLPEndpoint != "" {
		shutdown, err := observability.SetupTracing(context.Background(), cfg.Observability.OTLPEndpoint, log)
		if err != nil {
			return nil, err
		}
		a.stopTraces = shutdown
	}

	if cfg.Observability.Listen != "" {
		a.obsServer = observability.NewServer(cfg.Observability.Listen, a.healthSnapshot, log)
		a.obsServer.Start()
	}

	return a, nil
}

// RunOnce performs one merge, records metrics and history and writes
// the bundle. Failures are reported in the result rather than aborting
// so watch mode can keep running.
func (a *App) RunOnce(ctx context.Context) runResult {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	start := time.Now()
	text, err := a.Merger.Merge(ctx, a.Config.Entry, a.Config.Root)
	result := runResult{
		Err:      err,
		Stats:    a.Merger.Stats(),
		Duration: time.Since(start),
	}

	observability.MergeDuration.Observe(result.Duration.Seconds())
	if err != nil {
		observability.MergesTotal.WithLabelValues("error").Inc()
		a.recordRun(result, "")
		a.notifyUI(result)
		return result
	}
	observability.MergesTotal.WithLabelValues("ok").Inc()
	observability.ModulesLoaded.Set(float64(result.Stats.Modules))
	observability.SymbolsEmitted.Set(float64(result.Stats.Symbols))
	result.Bytes = len(text)

	if a.Config.Audit.Enabled {
		report, auditErr := a.Auditor.Audit(ctx, []byte(text), filepath.Base(a.Config.Output))
		if auditErr != nil {
			result.Err = auditErr
		} else {
			result.Report = report
			for _, f := range report.Findings {
				observability.AuditFindingsTotal.WithLabelValues(f.Kind).Inc()
			}
		}
	}

	if result.Err == nil {
		result.Err = a.writeBundle(text)
	}

	a.recordRun(result, text)
	a.notifyUI(result)
	return result
}

// writeBundle writes via a temp file so a crash mid-write never
// leaves a truncated bundle behind.
func (a *App) writeBundle(text string) error {
	if a.Config.Output == "-" {
		_, err := os.Stdout.WriteString(text)
		return err
	}

	dir := filepath.Dir(a.Config.Output)
	tmp, err := os.CreateTemp(dir, ".pysymphony-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), a.Config.Output)
}

func (a *App) recordRun(result runResult, text string) {
	a.healthMu.Lock()
	a.lastMerge = time.Now()
	if result.Err != nil {
		a.lastError = result.Err.Error()
	} else {
		a.lastError = ""
	}
	a.healthMu.Unlock()

	if a.store == nil {
		return
	}

	run := history.Run{
		Entry:       a.Config.Entry,
		Root:        a.Config.Root,
		Status:      history.StatusOK,
		ModuleCount: result.Stats.Modules,
		SymbolCount: result.Stats.Symbols,
		BundleBytes: len(text),
		Duration:    result.Duration,
	}
	if result.Err != nil {
		run.Status = history.StatusError
		run.Error = result.Err.Error()
	} else if result.Report != nil && !result.Report.Clean() {
		run.Status = history.StatusDirty
		run.AuditFindings = len(result.Report.Findings)
	}

	if _, err := a.store.SaveRun(run); err != nil {
		a.log.Warn("failed to record run", slog.String("error", err.Error()))
	}
}

func (a *App) healthSnapshot() observability.Health {
	a.healthMu.Lock()
	defer a.healthMu.Unlock()

	h := observability.Health{Status: "up", LastMerge: a.lastMerge, LastError: a.lastError}
	if a.lastError != "" {
		h.Status = "degraded"
	}
	return h
}

func (a *App) StartWatcher(ctx context.Context) error {
	w, err := watcher.New(watcher.Options{
		Debounce:     a.Config.Watch.Debounce,
		RebuildsPerS: a.Config.Watch.MergesPerSecond,
		ExcludeDirs:  a.Config.Exclude.Dirs,
		ExcludeFiles: a.Config.Exclude.Files,
	}, a.log, func(paths []string) {
		a.log.Info("detected changes", slog.Int("count", len(paths)))
		result := a.RunOnce(ctx)
		if a.teaProgram == nil {
			a.PrintSummary(result)
		}
	})
	if err != nil {
		return err
	}
	a.fsWatcher = w
	return w.Watch(a.Config.Root)
}

func (a *App) notifyUI(result runResult) {
	if a.teaProgram == nil {
		return
	}
	msg := updateMsg{
		err:      result.Err,
		stats:    result.Stats,
		duration: result.Duration,
		bytes:    result.Bytes,
	}
	if result.Report != nil {
		msg.findings = result.Report.Findings
	}
	a.teaProgram.Send(msg)
}

func (a *App) RunUI(ctx context.Context) error {
	m := initialModel(a.Config.Entry)
	p := tea.NewProgram(m, tea.WithAltScreen())
	a.teaProgram = p

	// Replay the initial run so the UI does not start empty.
	go a.notifyUI(a.RunOnce(ctx))

	_, err := p.Run()
	a.teaProgram = nil
	return err
}

func (a *App) PrintSummary(result runResult) {
	fmt.Println(strings.Repeat("-", 40))
	if result.Err != nil {
		fmt.Printf("merge failed after %v: %v\n", result.Duration.Round(time.Millisecond), result.Err)
		fmt.Println(strings.Repeat("-", 40))
		return
	}

	fmt.Printf("Bundled %s: %d modules, %d symbols, %d definitions in %v\n",
		a.Config.Entry, result.Stats.Modules, result.Stats.Symbols,
		result.Stats.Definitions, result.Duration.Round(time.Millisecond))

	if diags := a.Merger.Diagnostics(); len(diags) > 0 {
		fmt.Printf("FOUND %d DIAGNOSTICS:\n", len(diags))
		for _, d := range diags {
			fmt.Printf("   %s in %s:%d: %s\n", d.Code, d.Module, d.Line, d.Message)
		}
	}
	if undef := a.Merger.Undefined(); len(undef) > 0 {
		fmt.Printf("FOUND %d UNDEFINED NAMES:\n", len(undef))
		for _, u := range undef {
			fmt.Printf("   %s at line %d\n", u.Name, u.Line)
		}
	}

	if result.Report != nil {
		if result.Report.Clean() {
			fmt.Println("Audit clean.")
		} else {
			fmt.Printf("AUDIT FOUND %d ISSUES:\n", len(result.Report.Findings))
			for _, f := range result.Report.Findings {
				fmt.Printf("   %s at line %d: %s\n", f.Kind, f.Line, f.Message)
			}
		}
	}
	fmt.Println(strings.Repeat("-", 40))
}

func (a *App) Shutdown(ctx context.Context) {
	if a.fsWatcher != nil {
		a.fsWatcher.Close()
	}
	if a.obsServer != nil {
		if err := a.obsServer.Stop(ctx); err != nil {
			a.log.Warn("observability server shutdown", slog.String("error", err.Error()))
		}
	}
	if a.stopTraces != nil {
		if err := a.stopTraces(ctx); err != nil {
			a.log.Warn("trace exporter shutdown", slog.String("error", err.Error()))
		}
	}
}

func (a *App) Close() {
	if a.store != nil {
		a.store.Close()
	}
}
