package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/events"
	"signal-core/internal/order"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
)

type memWriter struct {
	mu      sync.Mutex
	lines   []string
	flushed int
}

func (m *memWriter) WritePoint(p *write.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, write.PointToLineProtocol(p, time.Millisecond))
}

func (m *memWriter) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed++
}

func (m *memWriter) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestWriteSignalAndExecution(t *testing.T) {
	w := &memWriter{}
	sink := NewSinkWithWriter(w)

	sink.Write(db.Signal{ID: "s1", Symbol: "BTCUSDT", Timeframe: "1h", Direction: "LONG", Grade: "A", Confidence: 88, BarTime: at})
	sink.Write(order.Result{ExecutionID: "e1", Symbol: "BTCUSDT", Side: common.SideBuy, Outcome: db.OutcomeDegraded, Quantity: 0.01, Leverage: 5, CreatedAt: at})
	sink.Write(order.Result{ExecutionID: "e1", Duplicate: true})
	sink.Write("ignored")

	lines := w.snapshot()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "signals,")
	assert.Contains(t, lines[0], "direction=LONG")
	assert.Contains(t, lines[0], "confidence=88")
	assert.Contains(t, lines[1], "executions,")
	assert.Contains(t, lines[1], "outcome=degraded")
	assert.Contains(t, lines[1], "leverage=5i")
}

func TestStartMirrorsBusEvents(t *testing.T) {
	w := &memWriter{}
	sink := NewSinkWithWriter(w)
	bus := events.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	sink.Start(ctx, bus)
	bus.Publish(events.EventSignalAccepted, db.Signal{ID: "s1", Symbol: "ETHUSDT", Timeframe: "4h", Direction: "SHORT", BarTime: at})

	assert.Eventually(t, func() bool { return len(w.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.flushed > 0
	}, time.Second, 5*time.Millisecond)
}
