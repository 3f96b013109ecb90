package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"signal-core/internal/events"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSink) Send(message string, _ ...zap.Field) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestMonitorAlertsOnDegraded(t *testing.T) {
	bus := events.NewBus()
	sink := &captureSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	(&Monitor{Bus: bus, Sink: sink}).Start(ctx)
	bus.Publish(events.EventExecutionDegraded, Degraded{ExecutionID: "x", Symbol: "BTCUSDT", Reason: "stop_loss: rejected"})

	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(100)
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}
	s := h.Stats()
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 100.0, s.Max)
	assert.Equal(t, 50.5, s.Avg)
	assert.Equal(t, 51.0, s.P50)
	assert.Equal(t, 96.0, s.P95)
	assert.Equal(t, 100, s.Count)

	h.Record(1000)
	assert.Equal(t, 2.0, h.Stats().Min, "window drops the oldest sample")
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.ScanDone(20*time.Millisecond, 4, 1, 2, 1)
	m.ExecutionDone("success", time.Millisecond)
	m.ExecutionDone("degraded", time.Millisecond)
	m.ExecutionDone("failed", time.Millisecond)

	s := m.GetSnapshot()
	assert.Equal(t, uint64(1), s.Scans)
	assert.Equal(t, uint64(4), s.Tasks)
	assert.Equal(t, uint64(1), s.SignalsAccepted)
	assert.Equal(t, uint64(2), s.Duplicates)
	assert.Equal(t, uint64(1), s.ExecutionsDegraded)
	assert.Equal(t, 3, s.OrderLatency.Count)
	assert.NotEmpty(t, s.Fields())
}
