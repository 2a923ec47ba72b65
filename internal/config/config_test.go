package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Reflector.Addr)
	assert.Equal(t, "/ws", cfg.Reflector.Path)
	assert.Equal(t, 50*time.Millisecond, cfg.Reflector.TickInterval())
	assert.Equal(t, 10*time.Second, cfg.Reflector.SnapshotInterval())
	assert.Empty(t, cfg.Reflector.DB)
	assert.Equal(t, "room", cfg.Client.Session)
	lo, hi := cfg.Client.Backoff()
	assert.Equal(t, 250*time.Millisecond, lo)
	assert.Equal(t, 5*time.Second, hi)
	assert.Equal(t, Log{Level: "info", Format: "text"}, cfg.Log)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
reflector: {
	addr: ":9000"
	snapshot_interval_ms: 0
	db: "island.db"
}
log: format: "json"
`), "island.cue")
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Reflector.Addr)
	assert.Equal(t, time.Duration(0), cfg.Reflector.SnapshotInterval())
	assert.Equal(t, "island.db", cfg.Reflector.DB)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level, "untouched fields keep defaults")
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", `reflector: port: 80`},
		{"wrong type", `reflector: addr: 80`},
		{"out of range", `reflector: tick_interval_ms: 0`},
		{"bad enum", `log: level: "loud"`},
		{"backoff order", `client: { min_backoff_ms: 1000, max_backoff_ms: 10 }`},
		{"empty session", `client: session: ""`},
		{"syntax", `reflector: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.cue")
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "island.cue")
	require.NoError(t, os.WriteFile(path, []byte(`client: session: "lobby"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "lobby", cfg.Client.Session)

	_, err = Load(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "room", cfg.Client.Session)
}

func TestFormatRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(`reflector: addr: ":7000"`), "in.cue")
	require.NoError(t, err)

	src, err := Format(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(src), `":7000"`)

	back, err := Parse(src, "out.cue")
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, Log{Level: "warn", Format: "json"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "session", "room")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"session":"room"`)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))

	_, err = NewLogger(&buf, Log{Level: "loud", Format: "text"})
	assert.Error(t, err)
	_, err = NewLogger(&buf, Log{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestSchemaIsEmbedded(t *testing.T) {
	assert.Contains(t, Schema(), "#Config")
}
