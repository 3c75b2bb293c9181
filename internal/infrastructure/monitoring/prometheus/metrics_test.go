package prometheus

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncMetrics_ReadOnScrape(t *testing.T) {
	reg := newTestRegistry(t)
	var consumed atomic.Int64
	pending := 0.0

	err := FuncMetrics{
		Namespace: "lexextract",
		Subsystem: "kafka",
		Counters: []FuncMetric{{
			Name:  "messages_consumed_total",
			Help:  "Messages fetched.",
			Value: func() float64 { return float64(consumed.Load()) },
		}},
		Gauges: []FuncMetric{{
			Name:   "pending_requests",
			Help:   "Queued requests.",
			Labels: map[string]string{"tier": "small"},
			Value:  func() float64 { return pending },
		}},
	}.Register(reg)
	require.NoError(t, err)

	consumed.Store(5)
	pending = 2
	output := scrape(t, Handler(reg), "/metrics")
	assert.Contains(t, output, "lexextract_kafka_messages_consumed_total 5")
	assert.Contains(t, output, `lexextract_kafka_pending_requests{tier="small"} 2`)

	consumed.Add(1)
	assert.Contains(t, scrape(t, Handler(reg), "/metrics"), "lexextract_kafka_messages_consumed_total 6")
}

func TestFuncMetrics_Conflict(t *testing.T) {
	reg := newTestRegistry(t)
	m := FuncMetrics{
		Namespace: "lexextract",
		Counters:  []FuncMetric{{Name: "dup_total", Help: "dup", Value: func() float64 { return 1 }}},
	}
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))
}
