package monitor

import (
	"context"

	"go.uber.org/zap"

	"signal-core/internal/events"
	"signal-core/pkg/logger"
)

// Degraded carries what an operator needs to protect an unprotected position.
type Degraded struct {
	ExecutionID string
	Symbol      string
	Side        string
	Quantity    float64
	Reason      string
}

// Monitor raises an alert for every degraded execution.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		logger.Warn("monitor not fully configured; skipping")
		return
	}
	if m.Sink == nil {
		m.Sink = LogSink{Log: logger.Named("monitor")}
	}
	stream, unsub := m.Bus.Subscribe(events.EventExecutionDegraded, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.alert(msg)
			}
		}
	}()
}

func (m *Monitor) alert(msg any) {
	d, ok := msg.(Degraded)
	if !ok {
		_ = m.Sink.Send("degraded execution", zap.Any("payload", msg))
		return
	}
	_ = m.Sink.Send("position open without full TP/SL protection",
		zap.String("execution_id", d.ExecutionID),
		zap.String("symbol", d.Symbol),
		zap.String("side", d.Side),
		zap.Float64("quantity", d.Quantity),
		zap.String("reason", d.Reason),
	)
}
