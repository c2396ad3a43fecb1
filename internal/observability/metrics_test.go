package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordAsk(t *testing.T) {
	m := NewMetrics()

	m.RecordAsk("ok", 120*time.Millisecond)
	m.RecordAsk("ok", 80*time.Millisecond)
	m.RecordAsk("", time.Millisecond)

	require.EqualValues(t, 2, testutil.ToFloat64(m.AskRequests.WithLabelValues("ok")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.AskRequests.WithLabelValues("unknown")))
}

func TestActiveStreamsGauge(t *testing.T) {
	m := NewMetrics()

	m.IncActiveStreams("ndjson")
	m.IncActiveStreams("ndjson")
	m.DecActiveStreams("ndjson")

	require.EqualValues(t, 1, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("ndjson")))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics

	m.RecordAsk("ok", time.Second)
	m.RecordEvent("delta")
	m.IncActiveStreams("ndjson")
	m.DecActiveStreams("ndjson")
	m.RecordTransportError("ndjson", "write")
	m.RecordToolCall("weather_current", "ok")
}

func TestEventAndToolCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordEvent("delta")
	m.RecordEvent("delta")
	m.RecordToolCall("weather_current", "ok")
	m.RecordTransportError("connect", "send")

	require.EqualValues(t, 2, testutil.ToFloat64(m.EventsEmitted.WithLabelValues("delta")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.ToolCalls.WithLabelValues("weather_current", "ok")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.TransportErrs.WithLabelValues("connect", "send")))
}
