package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferedSlogHandler(t *testing.T) {
	logger, handler := NewTestLogger(t)

	logger.With("component", "tracker").Info("event queued", "type", "click")
	logger.Error("flush failed")

	assert.Equal(t, 2, handler.Count())
	assert.True(t, handler.ContainsMessage("queued"))
	assert.True(t, handler.ContainsAttr("component", "tracker"), "attrs from With are kept")
	assert.True(t, handler.ContainsAttr("type", "click"))
	assert.Len(t, handler.GetRecordsByLevel(slog.LevelError), 1)

	records := handler.GetRecords()
	assert.Equal(t, "event queued", records[0].Message)
	assert.Equal(t, slog.LevelInfo, records[0].Level)

	handler.Clear()
	assert.Zero(t, handler.Count())
}
