package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract/internal/testutil"
)

func TestMockLogger(t *testing.T) {
	logger := testutil.NewMockLogger()

	logger.Info("test info", logging.String("key", "value"))

	messages := logger.GetMessages()
	assert.Len(t, messages, 1)
	assert.Equal(t, "info", messages[0].Level)
	assert.Equal(t, "test info", messages[0].Message)

	v, ok := logger.FieldValue("info", "test info", "key")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	logger.Clear()
	assert.Len(t, logger.GetMessages(), 0)

	logger.Error("test error")
	logger.Error("test error")
	assert.True(t, logger.HasMessage("error", "test error"))
	assert.Equal(t, 2, logger.Count("error", "test error"))
	assert.False(t, logger.HasMessage("info", "test info"))
}

func TestMockLogger_DerivedLoggersShareRecords(t *testing.T) {
	logger := testutil.NewMockLogger()
	logger.Named("scheduler").With(logging.String("tier", "small")).Warn("requeued")
	assert.True(t, logger.HasMessage("warn", "requeued"))

	logger.SetLevel("debug")
	assert.Equal(t, "debug", logger.Level())
}
