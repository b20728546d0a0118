package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	type test struct {
		level   string
		format  string
		wantErr string
	}
	tests := map[string]test{
		"json":          {level: "info", format: "json"},
		"console":       {level: "debug", format: "console"},
		"invalid level": {level: "loud", format: "json", wantErr: "invalid log level"},
		"invalid format": {
			level: "info", format: "xml", wantErr: "invalid log format",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestBuild_Entry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	logger, err := build("warn", "json", []string{path})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(b, &entry), string(b))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, ServiceName, entry["service"])
	assert.Contains(t, entry, "timestamp")
}
