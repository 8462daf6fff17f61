package logger_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/beacon/pipeline/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logger.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logger.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, logger.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logger.ParseLevel(""))
}

func TestNewWithWriter_Format(t *testing.T) {
	var buf bytes.Buffer
	logger.NewWithWriter(&buf, "info", "json").Info("scan queued", "statusId", "abc")
	assert.Contains(t, buf.String(), `"statusId":"abc"`)

	buf.Reset()
	logger.NewWithWriter(&buf, "info", "text").Info("scan queued", "statusId", "abc")
	assert.Contains(t, buf.String(), "statusId=abc")

	buf.Reset()
	logger.NewWithWriter(&buf, "warn", "text").Info("dropped")
	assert.Empty(t, buf.String())
}
