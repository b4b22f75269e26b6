package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWritesJSONWithServiceField(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	path := filepath.Join(t.TempDir(), "council.log")
	require.NoError(t, Init("info", "json", path))

	Named("ledger").Info("Entry sealed", zap.Int64("index", 3))
	Debug("dropped below level")
	Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Entry sealed", entry["message"])
	assert.Equal(t, "ledger", entry["logger"])
	assert.Equal(t, Service, entry["service"])
	assert.Equal(t, float64(3), entry["index"])
	assert.Contains(t, entry, "timestamp")
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init("loud", "json", "stdout"))
}
