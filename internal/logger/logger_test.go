package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"mqtt-presence-agent/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LogConfig
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: &config.LogConfig{
				Level:       "info",
				Encoding:    "json",
				LogToStdout: true,
			},
			wantErr: false,
		},
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: true,
		},
		{
			name: "invalid level defaults to info",
			cfg: &config.LogConfig{
				Level:       "invalid",
				Encoding:    "json",
				LogToStdout: true,
			},
			wantErr: false,
		},
		{
			name: "console encoding",
			cfg: &config.LogConfig{
				Level:       "debug",
				Encoding:    "console",
				LogToStdout: true,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestNewLoggerCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, err := NewLogger(&config.LogConfig{
		Level:     "info",
		Encoding:  "json",
		LogToFile: true,
		Directory: dir,
		MaxSize:   1,
	})
	assert.NoError(t, err)
	assert.NotNil(t, logger)

	info, err := os.Stat(dir)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoggerMethods(t *testing.T) {
	logger, err := NewLogger(&config.LogConfig{
		Level:       "debug",
		Encoding:    "json",
		LogToStdout: true,
	})
	assert.NoError(t, err)

	// Must not panic with structured args
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "count", 1)
	logger.Warn("warn message", "topic", "dev-1/status")
	logger.Error("error message", "error", os.ErrNotExist)
}
