package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfo(t *testing.T) {
	log := New(Options{Level: "not-a-level"})
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())

	log = New(Options{Level: "debug"})
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestJSONOutputFields(t *testing.T) {
	log := New(Options{Level: "info"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	WithComponent(log, "gateway").WithField("symbol", "AAPL").Info("order placed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "order placed", entry["message"])
	assert.Equal(t, "gateway", entry["component"])
	assert.Equal(t, "AAPL", entry["symbol"])
	assert.Contains(t, entry, "timestamp")
}

type captureRecorder struct {
	level, component, message string
	fields                    map[string]any
	calls                     int
}

func (c *captureRecorder) Record(level, component, message string, fields map[string]any) {
	c.level = level
	c.component = component
	c.message = message
	c.fields = fields
	c.calls++
}

func TestRecorderHookMirrorsWarnings(t *testing.T) {
	log := New(Options{Level: "debug"})
	log.SetOutput(bytes.NewBuffer(nil))

	rec := &captureRecorder{}
	AttachRecorder(log, rec)

	WithComponent(log, "worker").Info("cycle complete")
	assert.Equal(t, 0, rec.calls, "info entries should not be recorded")

	WithComponent(log, "worker").WithField("account_id", "a-1").Warn("token refresh degraded")
	require.Equal(t, 1, rec.calls)
	assert.Equal(t, "warning", rec.level)
	assert.Equal(t, "worker", rec.component)
	assert.Equal(t, "token refresh degraded", rec.message)
	assert.Equal(t, "a-1", rec.fields["account_id"])
	assert.NotContains(t, rec.fields, "component")
}
