package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info", Format: "json"}) })

	Info().Str("account_id", "acct-1").Msg("sync complete")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "acct-1", entry["account_id"])
	assert.Equal(t, "sync complete", entry["message"])
}

func TestInit_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info", Format: "json"}) })

	Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSlog_WritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info", Format: "json"}) })

	Slog().With("service", "scheduler").WithGroup("event").Info("restarted", slog.Int("attempt", 2))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "restarted", entry["message"])
	assert.Equal(t, "scheduler", entry["service"])
	assert.EqualValues(t, 2, entry["event.attempt"])
}

func TestParseLevel_Unknown(t *testing.T) {
	assert.Equal(t, "info", parseLevel("loud").String())
}
