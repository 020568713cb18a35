package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/wlvh/PySymphony/internal/config"
)

var (
	configPath = flag.String("config", "./pysymphony.toml", "Path to config file")
	entryFlag  = flag.String("entry", "", "Entry script (overrides config)")
	rootFlag   = flag.String("root", "", "Project root for import resolution (overrides config)")
	outFlag    = flag.String("out", "", "Bundle output path, - for stdout (overrides config)")
	watch      = flag.Bool("watch", false, "Rebuild the bundle on source changes")
	ui         = flag.Bool("ui", false, "Enable terminal UI mode (implies -watch)")
	audit      = flag.Bool("audit", false, "Audit the produced bundle")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	version    = flag.Bool("version", false, "Print version and exit")
)

const VERSION = "1.0.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("pysymphony v%s\n", VERSION)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}

	output := os.Stderr
	if *ui {
		// In UI mode, avoid terminal logs corrupting the TUI.
		logPath := resolveLogPath()
		if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to create log dir for %s: %v\n", logPath, err)
		} else {
			if fi, err := os.Lstat(logPath); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
				fmt.Fprintf(os.Stderr, "warning: refusing to write logs to symlink path %s\n", logPath)
			} else {
				f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
				if err == nil {
					output = f
				} else {
					fmt.Fprintf(os.Stderr, "warning: failed to open log file %s: %v\n", logPath, err)
				}
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx := context.Background()
	result := app.RunOnce(ctx)
	if !*ui {
		app.PrintSummary(result)
	}

	if !*watch && !*ui {
		if result.Err != nil {
			os.Exit(1)
		}
		if result.Report != nil && !result.Report.Clean() {
			os.Exit(3)
		}
		os.Exit(0)
	}

	if err := app.StartWatcher(ctx); err != nil {
		slog.Error("failed to start watcher", "error", err)
		os.Exit(1)
	}

	if *ui {
		if err := app.RunUI(ctx); err != nil {
			slog.Error("failed to run UI", "error", err)
			os.Exit(1)
		}
	} else {
		select {}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.Shutdown(shutdownCtx)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err == nil {
		return cfg
	}

	// Without a config file an entry script on the command line or
	// the -entry flag is enough to run.
	entry := *entryFlag
	if entry == "" && flag.NArg() > 0 {
		entry = flag.Arg(0)
	}
	if entry == "" {
		slog.Error("failed to load config and no entry script given", "error", err)
		os.Exit(2)
	}
	return config.Default(entry)
}

func applyFlagOverrides(cfg *config.Config) {
	if *entryFlag != "" {
		cfg.Entry = *entryFlag
	} else if flag.NArg() > 0 {
		cfg.Entry = flag.Arg(0)
	}
	if *rootFlag != "" {
		cfg.Root = *rootFlag
	} else if cfg.Root == "" {
		cfg.Root = filepath.Dir(cfg.Entry)
	}
	if *outFlag != "" {
		cfg.Output = *outFlag
	}
	if *audit {
		cfg.Audit.Enabled = true
	}
}

func resolveLogPath() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "pysymphony", "pysymphony.log")
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "pysymphony", "pysymphony.log")
	}

	return "pysymphony.log"
}
