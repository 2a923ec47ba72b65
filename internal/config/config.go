// Package config loads island configuration from CUE.
//
// The embedded schema defines every field with its default. A user file is
// unified with the schema, so typos (closed definition) and out-of-range
// values are reported with CUE positions.
package config

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"
)

//go:embed schema.cue
var schemaCUE string

// Config is the decoded configuration.
type Config struct {
	Reflector Reflector `json:"reflector"`
	Client    Client    `json:"client"`
	Log       Log       `json:"log"`
}

// Reflector configures `island reflector`.
type Reflector struct {
	Addr               string `json:"addr"`
	Path               string `json:"path"`
	TickIntervalMS     int64  `json:"tick_interval_ms"`
	SnapshotIntervalMS int64  `json:"snapshot_interval_ms"`
	DB                 string `json:"db"`
}

// TickInterval returns the TICK interval.
func (r Reflector) TickInterval() time.Duration {
	return time.Duration(r.TickIntervalMS) * time.Millisecond
}

// SnapshotInterval returns the checkpoint interval.
func (r Reflector) SnapshotInterval() time.Duration {
	return time.Duration(r.SnapshotIntervalMS) * time.Millisecond
}

// Client configures `island join`.
type Client struct {
	URL          string `json:"url"`
	Session      string `json:"session"`
	ID           string `json:"id"`
	MinBackoffMS int64  `json:"min_backoff_ms"`
	MaxBackoffMS int64  `json:"max_backoff_ms"`
}

// Backoff returns the reconnect delay bounds.
func (c Client) Backoff() (lo, hi time.Duration) {
	return time.Duration(c.MinBackoffMS) * time.Millisecond, time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// Log configures the slog handler.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Schema returns the CUE schema source.
func Schema() string { return schemaCUE }

// Default returns the configuration with every default applied.
func Default() (*Config, error) {
	return decode(cuecontext.New(), nil, "")
}

// Load reads a CUE file and unifies it with the schema. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse unifies CUE source with the schema. filename is used in error
// positions.
func Parse(data []byte, filename string) (*Config, error) {
	return decode(cuecontext.New(), data, filename)
}

func decode(ctx *cue.Context, data []byte, filename string) (*Config, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if data != nil {
		user := ctx.CompileBytes(data, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return nil, fmt.Errorf("compile %s: %w", filename, err)
		}
		v = v.Unify(user)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Format renders cfg as CUE source.
func Format(cfg *Config) ([]byte, error) {
	v := cuecontext.New().Encode(cfg)
	if err := v.Err(); err != nil {
		return nil, err
	}
	n := v.Syntax(cue.Final(), cue.Concrete(true))
	if s, ok := n.(*ast.StructLit); ok {
		n = &ast.File{Decls: s.Elts}
	}
	return format.Node(n)
}

// NewLogger builds the slog logger described by l.
func NewLogger(w io.Writer, l Log) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q: must be text or json", l.Format)
	}
}
