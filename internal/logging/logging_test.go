package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firemarket/escrow-engine/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestNew_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrow.log")
	logger, closeLog := New("escrow-engine", config.LogConfig{Level: "warn", File: path, MaxSizeMB: 1}, "test")

	logger.Info("dropped")
	logger.Warn("order disputed", "order_id", 7)
	require.NoError(t, closeLog())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "order disputed", rec["msg"])
	assert.Equal(t, "escrow-engine", rec["service"])
	assert.Equal(t, "test", rec["env"])
	assert.EqualValues(t, 7, rec["order_id"])
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
