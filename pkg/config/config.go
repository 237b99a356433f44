// Package config loads the settings shared by the commands: where artifacts
// are kept and how the pipeline stages are tuned.
//
// Settings come from an optional JSON file and can be overridden on the
// command line. Fields missing from the file keep their defaults.
package config

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docker/go-units"

	"gocompile/pkg/asm"
	"gocompile/pkg/compiler"
	"gocompile/pkg/cpu"
	"gocompile/pkg/persist"
	"gocompile/pkg/pipeline"
)

// Duration is a time.Duration written as text ("500ms", "2s") in JSON.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Listen  string         `json:"listen"`
	DataDir string         `json:"data_dir"`
	Persist persist.Config `json:"persist"`
	// Quota bounds the memory and files backends, e.g. "64MiB".
	Quota         string   `json:"quota"`
	FlushInterval Duration `json:"flush_interval"`

	Registers           int  `json:"registers"`
	Padding             bool `json:"padding"`
	MaxSteps            int  `json:"max_steps"`
	OptimizerIterations int  `json:"optimizer_iterations"`

	// server sessions
	MaxSessions int      `json:"max_sessions"`
	SessionIdle Duration `json:"session_idle"` // 0 keeps idle sessions open
}

func Default() Config {
	return Config{
		Listen:              "localhost:8080",
		DataDir:             "data",
		Persist:             persist.Config{Backend: "files", Compression: persist.CodecNone},
		Quota:               "64MiB",
		FlushInterval:       Duration(pipeline.DefaultFlushInterval),
		Registers:           pipeline.DefaultRegisters,
		Padding:             true,
		MaxSteps:            cpu.DefaultMaxSteps,
		OptimizerIterations: compiler.DefaultOptimizerIterations,
		MaxSessions:         64,
		SessionIdle:         Duration(30 * time.Minute),
	}
}

// Load reads a JSON configuration file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Registers < asm.MinRegisters {
		return fmt.Errorf("registers: need at least %d, have %d", asm.MinRegisters, c.Registers)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	if c.OptimizerIterations <= 0 {
		return fmt.Errorf("optimizer_iterations must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive")
	}
	if c.SessionIdle < 0 {
		return fmt.Errorf("session_idle must not be negative")
	}
	if _, err := c.QuotaBytes(); err != nil {
		return err
	}
	switch c.Persist.Backend {
	case "", "memory", "files", "s3", "sql":
	default:
		return fmt.Errorf("unknown backend %q", c.Persist.Backend)
	}
	switch c.Persist.Compression {
	case "", persist.CodecNone, persist.CodecLZ4, persist.CodecXZ:
	default:
		return fmt.Errorf("unknown compression %q", c.Persist.Compression)
	}
	return nil
}

// QuotaBytes parses Quota. An empty quota means unlimited.
func (c Config) QuotaBytes() (int, error) {
	if c.Quota == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.Quota)
	if err != nil {
		return 0, fmt.Errorf("quota: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("quota: negative size %q", c.Quota)
	}
	return int(n), nil
}

// FromFlags registers the override flags on fs, parses args and returns the
// resulting configuration. A -config file is applied first; flags given on
// the command line win over it.
func FromFlags(fs *flag.FlagSet, args []string) (Config, error) {
	def := Default()
	path := fs.String("config", "", "JSON configuration file")
	listen := fs.String("listen", def.Listen, "address to serve on")
	dataDir := fs.String("data", def.DataDir, "directory for stored artifacts")
	backend := fs.String("backend", def.Persist.Backend, "artifact store: memory, files, s3 or sql")
	compression := fs.String("compression", def.Persist.Compression, "stored value compression: none, lz4 or xz")
	registers := fs.Int("registers", def.Registers, "physical registers for the allocator")
	noPadding := fs.Bool("no-padding", false, "do not pad load hazards with NOPs")
	maxSteps := fs.Int("max-steps", def.MaxSteps, "simulation step ceiling")
	if err := fs.Parse(args); err != nil {
		return def, err
	}

	cfg := def
	if *path != "" {
		var err error
		if cfg, err = Load(*path); err != nil {
			return cfg, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "data":
			cfg.DataDir = *dataDir
		case "backend":
			cfg.Persist.Backend = *backend
		case "compression":
			cfg.Persist.Compression = *compression
		case "registers":
			cfg.Registers = *registers
		case "no-padding":
			cfg.Padding = !*noPadding
		case "max-steps":
			cfg.MaxSteps = *maxSteps
		}
	})
	return cfg, cfg.Validate()
}

// OpenBackend opens the configured artifact store. The files backend
// defaults to DataDir.
func (c Config) OpenBackend(ctx context.Context) (persist.Backend, func() error, error) {
	pc := c.Persist
	if pc.Backend == "files" && pc.Dir == "" {
		pc.Dir = c.DataDir
	}
	q, err := c.QuotaBytes()
	if err != nil {
		return nil, func() error { return nil }, err
	}
	pc.Quota = q
	return persist.Open(ctx, pc)
}

// PipelineOptions returns the store options for this configuration.
func (c Config) PipelineOptions(b persist.Backend, logger *log.Logger) pipeline.Options {
	return pipeline.Options{
		Registers:           c.Registers,
		NoPadding:           !c.Padding,
		MaxSteps:            c.MaxSteps,
		OptimizerIterations: c.OptimizerIterations,
		Backend:             b,
		FlushInterval:       time.Duration(c.FlushInterval),
		Logger:              logger,
	}
}
