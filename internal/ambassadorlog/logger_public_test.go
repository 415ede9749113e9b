package ambassadorlog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcpambassador/server/internal/ambassadorlog"
)

func TestGetReturnsNonNilLogger(t *testing.T) {
	assert.NotNil(t, ambassadorlog.Get())
}

func TestInitializeRebuildsSingleton(t *testing.T) {
	before := ambassadorlog.Get()
	ambassadorlog.Initialize()
	after := ambassadorlog.Get()
	assert.NotNil(t, after)
	_ = before
}

func TestNewLogrReturnsUsableLogger(t *testing.T) {
	l := ambassadorlog.NewLogr()
	l.Info("test message", "key", "value")
}

func TestPanicfPanicsWithFormattedMessage(t *testing.T) {
	assert.PanicsWithValue(t, "boom: 42", func() {
		ambassadorlog.Panicf("boom: %d", 42)
	})
}
