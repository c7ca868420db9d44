package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/watsonu/WebChat-Furia/internal/config"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	req := require.New(t)

	_, err := NewLogger(config.LoggingConfig{Level: "loud"})
	req.Error(err)
	req.Contains(err.Error(), "invalid log level")
}

func TestNewLoggerBuildsPerMode(t *testing.T) {
	req := require.New(t)

	prod, err := NewLogger(config.LoggingConfig{Level: "info"})
	req.NoError(err)
	req.False(prod.Core().Enabled(zapcore.DebugLevel), "debug is off at info level")

	dev, err := NewLogger(config.LoggingConfig{Level: "debug", Development: true})
	req.NoError(err)
	req.True(dev.Core().Enabled(zapcore.DebugLevel))
}
