package logger

import (
	"testing"

	"market-feed/src/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel(" ERROR "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}

func TestLevelFromConfig(t *testing.T) {
	assert.Equal(t, "DEBUG", levelOf(&models.MConfig{LogLevel: "DEBUG"}))
	assert.Equal(t, "ERROR", levelOf(models.MConfig{LogLevel: "ERROR"}))
	assert.Equal(t, "WARNING", levelOf("WARNING"))
	assert.Equal(t, "INFO", levelOf(nil))
	assert.Equal(t, "INFO", levelOf((*models.MConfig)(nil)))
}

func TestPrintfStyleMessages(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core), "feed")

	l.Info("connected to %s", "ws://x")
	l.Named("registry").Warning("bad fromTime %v", "soon")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "connected to ws://x", entries[0].Message)
		assert.Equal(t, "feed", entries[0].LoggerName)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, "feed.registry", entries[1].LoggerName)
	}
}

func TestSetLevelIsShared(t *testing.T) {
	l := NewLogger("ERROR", "test")
	child := l.Named("child")
	assert.False(t, child.level.Enabled(zapcore.InfoLevel))
	l.SetLevel("DEBUG")
	assert.True(t, child.level.Enabled(zapcore.DebugLevel))
}
