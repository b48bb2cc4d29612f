// Package config loads attend settings from a YAML file and ATTEND_*
// environment variables, then checks the result against an embedded CUE
// schema.
//
// Precedence, lowest first:
//   - Default()
//   - the YAML file, when a path is given
//   - environment variables
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/attend/internal/audit"
	"github.com/roach88/attend/internal/draft"
	"github.com/roach88/attend/internal/gate"
)

//go:embed schema.cue
var schemaSource string

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the full process configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" json:"store"`
	Audit       AuditConfig       `yaml:"audit" json:"audit"`
	Draft       DraftConfig       `yaml:"draft" json:"draft"`
	HTTP        HTTPConfig        `yaml:"http" json:"http"`
	Log         LogConfig         `yaml:"log" json:"log"`
	Permissions PermissionsConfig `yaml:"permissions" json:"permissions"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend" json:"backend"`
	Path        string `yaml:"path" json:"path,omitempty"`
	RedisURL    string `yaml:"redis_url" json:"redisUrl,omitempty"`
	RedisPrefix string `yaml:"redis_prefix" json:"redisPrefix,omitempty"`
}

type AuditConfig struct {
	Capacity int `yaml:"capacity" json:"capacity"`
}

type DraftConfig struct {
	// Autosave enables server-side buffered drafts flushed on a schedule.
	Autosave         bool          `yaml:"autosave" json:"autosave"`
	AutosaveInterval time.Duration `yaml:"autosave_interval" json:"autosaveInterval"`
	TickTimeout      time.Duration `yaml:"tick_timeout" json:"tickTimeout"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdownTimeout"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// PermissionsConfig feeds gate.NewPolicy. With no rules every action is
// decided by DefaultAllow.
type PermissionsConfig struct {
	DefaultAllow bool        `yaml:"default_allow" json:"defaultAllow"`
	Rules        []gate.Rule `yaml:"rules" json:"rules,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:     BackendSQLite,
			Path:        "attend.db",
			RedisPrefix: "attend:",
		},
		Audit: AuditConfig{Capacity: audit.Capacity},
		Draft: DraftConfig{
			Autosave:         true,
			AutosaveInterval: draft.DefaultInterval,
			TickTimeout:      10 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Permissions: PermissionsConfig{
			DefaultAllow: true,
		},
	}
}

// Load reads path (optional), applies ATTEND_* overrides and validates.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.Encode(cfg)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnv overrides cfg from ATTEND_* variables. Empty values are ignored.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	strs := map[string]*string{
		"ATTEND_STORE_BACKEND": &cfg.Store.Backend,
		"ATTEND_STORE_PATH":    &cfg.Store.Path,
		"ATTEND_REDIS_URL":     &cfg.Store.RedisURL,
		"ATTEND_REDIS_PREFIX":  &cfg.Store.RedisPrefix,
		"ATTEND_HTTP_ADDR":     &cfg.HTTP.Addr,
		"ATTEND_LOG_LEVEL":     &cfg.Log.Level,
		"ATTEND_LOG_FORMAT":    &cfg.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	if v, ok := get("ATTEND_AUDIT_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ATTEND_AUDIT_CAPACITY: invalid integer %q", v)
		}
		cfg.Audit.Capacity = n
	}

	bools := map[string]*bool{
		"ATTEND_DRAFT_AUTOSAVE":      &cfg.Draft.Autosave,
		"ATTEND_PERMISSIONS_DEFAULT": &cfg.Permissions.DefaultAllow,
	}
	for name, dst := range bools {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: invalid boolean %q", name, v)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"ATTEND_DRAFT_INTERVAL":        &cfg.Draft.AutosaveInterval,
		"ATTEND_DRAFT_TICK_TIMEOUT":    &cfg.Draft.TickTimeout,
		"ATTEND_HTTP_SHUTDOWN_TIMEOUT": &cfg.HTTP.ShutdownTimeout,
	}
	for name, dst := range durations {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: invalid duration %q", name, v)
			}
			*dst = d
		}
	}
	return nil
}

// SlogLevel maps Level to an slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
