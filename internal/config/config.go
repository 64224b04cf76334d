// Package config loads pathsync settings from a YAML file.
//
// The file is checked against an embedded CUE schema before it is decoded,
// so unknown keys and out-of-range values are rejected with the offending
// field named.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every setting the CLI accepts from a file.
type Config struct {
	Driver      string        `yaml:"driver"`
	DB          string        `yaml:"db"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	MaxDepth    int           `yaml:"max_depth"`
	MetricsFile string        `yaml:"metrics_file"`
	Concurrency int           `yaml:"concurrency"`
	Retries     int           `yaml:"retries"`
}

// Default returns the settings used when neither a file nor a flag sets them.
func Default() Config {
	return Config{
		Driver:      DriverSQLite,
		LockTimeout: 500 * time.Millisecond,
		MaxDepth:    1000,
		Concurrency: 4,
	}
}

// Load reads path, validates it, and overlays it on Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates YAML config data and overlays it on Default.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	if raw == nil {
		raw = map[string]any{}
	}
	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}
