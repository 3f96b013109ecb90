package scanner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"signal-core/internal/events"
	"signal-core/internal/order"
	"signal-core/internal/strategy"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/logger"
)

// AutoExecutor turns accepted signals into order intents.
type AutoExecutor struct {
	Bus   *events.Bus
	Queue *order.Queue
	Risk  config.Risk
	Now   func() time.Time
	log   *zap.Logger
}

func NewAutoExecutor(bus *events.Bus, queue *order.Queue, risk config.Risk) *AutoExecutor {
	return &AutoExecutor{
		Bus:   bus,
		Queue: queue,
		Risk:  risk,
		Now:   func() time.Time { return time.Now().UTC() },
		log:   logger.Named("auto_execute"),
	}
}

// Start forwards accepted signals until ctx is done.
func (a *AutoExecutor) Start(ctx context.Context) {
	stream, unsub := a.Bus.Subscribe(events.EventSignalAccepted, 100)
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
				sig, ok := msg.(db.Signal)
				if !ok {
					continue
				}
				a.Forward(sig)
			}
		}
	}()
}

// Forward enqueues sig unless it has expired. It reports whether the intent
// was queued.
func (a *AutoExecutor) Forward(sig db.Signal) bool {
	log := a.log.With(zap.String("signal_id", sig.ID), zap.String("symbol", sig.Symbol))
	if !sig.ExpiresAt.IsZero() && !a.Now().Before(sig.ExpiresAt) {
		log.Warn("signal expired before execution")
		return false
	}
	in := IntentFor(sig, a.Risk)
	if !a.Queue.TryEnqueue(in) {
		log.Error("intent queue full, signal not executed", zap.Int("queue_len", a.Queue.Len()))
		return false
	}
	log.Info("signal queued for execution", zap.String("side", string(in.Side)))
	return true
}

// IntentFor builds the order intent for a signal. The signal id is the
// idempotency key so a signal is executed at most once.
func IntentFor(sig db.Signal, risk config.Risk) order.Intent {
	return order.Intent{
		Symbol:         sig.Symbol,
		Side:           common.Side(strategy.Direction(sig.Direction).Side()),
		SizingMode:     risk.Mode,
		Amount:         risk.Amount,
		RiskBudget:     risk.RiskBudget,
		Quantity:       risk.Quantity,
		Leverage:       risk.Leverage,
		OrderType:      common.OrderTypeMarket,
		StopLoss:       sig.StopLoss,
		TakeProfit:     sig.TakeProfit,
		IdempotencyKey: sig.ID,
		SignalID:       sig.ID,
	}
}
