// Package config loads the pysymphony.toml project file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wlvh/PySymphony/internal/errors"
)

type Config struct {
	// Entry is the script whose reachable code gets bundled.
	Entry string `toml:"entry"`
	// Root is the project root imports resolve against. Defaults to
	// the entry script's directory.
	Root string `toml:"root"`
	// Output is the bundle path; "-" writes to stdout.
	Output string `toml:"output"`

	Audit         Audit         `toml:"audit"`
	Exclude       Exclude       `toml:"exclude"`
	Watch         Watch         `toml:"watch"`
	History       History       `toml:"history"`
	Observability Observability `toml:"observability"`
}

type Audit struct {
	// Enabled re-checks every produced bundle for undefined names,
	// duplicates and stray main guards.
	Enabled bool `toml:"enabled"`
}

type Exclude struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
	// MergesPerSecond caps rebuild frequency during heavy churn.
	MergesPerSecond float64 `toml:"merges_per_second"`
}

type History struct {
	// Path of the sqlite run database. Empty disables history.
	Path string `toml:"path"`
}

type Observability struct {
	// Listen serves /metrics and /health when set (e.g. ":9188").
	Listen string `toml:"listen"`
	// OTLPEndpoint enables trace export over gRPC when set.
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNotFound, "read config").
			WithContext(errors.CtxPath, path)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidation, "parse config").
			WithContext(errors.CtxPath, path)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default(entry string) *Config {
	cfg := &Config{Entry: entry}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Root == "" && c.Entry != "" {
		c.Root = filepath.Dir(c.Entry)
	}
	if c.Output == "" {
		c.Output = "bundle.py"
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 500 * time.Millisecond
	}
	if c.Watch.MergesPerSecond == 0 {
		c.Watch.MergesPerSecond = 2
	}
	if len(c.Exclude.Dirs) == 0 {
		c.Exclude.Dirs = []string{"__pycache__", ".git", ".venv", "venv", ".tox"}
	}
}

func (c *Config) Validate() error {
	if c.Entry == "" {
		return errors.New(errors.CodeValidation, "config: entry script is required")
	}
	if c.Watch.Debounce < 0 {
		return errors.New(errors.CodeValidation, "config: watch debounce must not be negative")
	}
	if c.Watch.MergesPerSecond <= 0 {
		return errors.New(errors.CodeValidation, "config: merges_per_second must be positive")
	}
	return nil
}
