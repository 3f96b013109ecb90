// Package reconciliation closes logged executions whose exchange position is gone.
package reconciliation

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-core/internal/events"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/logger"
)

const qtyEpsilon = 1e-9

// PositionReader lists exchange positions; an empty symbol means all.
type PositionReader interface {
	Positions(ctx context.Context, symbol string) ([]common.Position, error)
}

// ExecutionStore is the execution log as reconciliation sees it.
type ExecutionStore interface {
	ListOpenExecutions(ctx context.Context) ([]db.Execution, error)
	CloseExecution(ctx context.Context, id string, at time.Time) error
}

// Service compares open executions with exchange positions.
type Service struct {
	exchange PositionReader
	store    ExecutionStore
	bus      *events.Bus
	now      func() time.Time
	mu       sync.Mutex
	log      *zap.Logger
}

// Report contains reconciliation results.
type Report struct {
	Timestamp time.Time      `json:"timestamp"`
	Open      int            `json:"open"`
	Closed    []string       `json:"closed"`
	Diffs     []PositionDiff `json:"diffs"`
}

// PositionDiff is a symbol whose exchange position does not match the log.
type PositionDiff struct {
	Symbol      string  `json:"symbol"`
	LoggedQty   float64 `json:"logged_qty"` // signed sum of open executions
	ExchangeQty float64 `json:"exchange_qty"`
	Closed      bool    `json:"closed"`
}

// Closed is published for every execution moved to closed.
type Closed struct {
	ExecutionID string    `json:"execution_id"`
	Symbol      string    `json:"symbol"`
	ClosedAt    time.Time `json:"closed_at"`
}

// NewService creates a new reconciliation service
func NewService(exchange PositionReader, store ExecutionStore, bus *events.Bus) *Service {
	return &Service{
		exchange: exchange,
		store:    store,
		bus:      bus,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.Named("reconciliation"),
	}
}

// Job runs one reconciliation; it matches the scheduler's job signature.
func (s *Service) Job(ctx context.Context) error {
	report, err := s.Reconcile(ctx)
	if err != nil {
		return err
	}
	s.handleReport(report)
	return nil
}

// Reconcile closes open executions whose symbol has no exchange position.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: s.now()}
	open, err := s.store.ListOpenExecutions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open executions: %w", err)
	}
	report.Open = len(open)
	if len(open) == 0 {
		return report, nil
	}

	positions, err := s.exchange.Positions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	exchangeQty := make(map[string]float64, len(positions))
	for _, p := range positions {
		exchangeQty[p.Symbol] += p.Amount
	}

	logged := make(map[string]float64)
	bySymbol := make(map[string][]db.Execution)
	for _, e := range open {
		qty := e.Quantity
		if e.Side == string(common.SideSell) {
			qty = -qty
		}
		logged[e.Symbol] += qty
		bySymbol[e.Symbol] = append(bySymbol[e.Symbol], e)
	}

	for symbol, loggedQty := range logged {
		exQty := exchangeQty[symbol]
		if math.Abs(loggedQty-exQty) < qtyEpsilon {
			continue
		}
		diff := PositionDiff{Symbol: symbol, LoggedQty: loggedQty, ExchangeQty: exQty}
		if math.Abs(exQty) < qtyEpsilon {
			for _, e := range bySymbol[symbol] {
				if err := s.store.CloseExecution(ctx, e.ID, report.Timestamp); err != nil {
					s.log.Error("close execution failed", zap.String("execution_id", e.ID), zap.Error(err))
					continue
				}
				report.Closed = append(report.Closed, e.ID)
				s.bus.Publish(events.EventPositionClosed, Closed{ExecutionID: e.ID, Symbol: symbol, ClosedAt: report.Timestamp})
			}
			diff.Closed = true
		}
		report.Diffs = append(report.Diffs, diff)
	}
	return report, nil
}

func (s *Service) handleReport(report *Report) {
	if len(report.Diffs) == 0 {
		s.log.Debug("reconciliation ok", zap.Int("open", report.Open))
		return
	}
	for _, d := range report.Diffs {
		fields := []zap.Field{
			zap.String("symbol", d.Symbol),
			zap.Float64("logged_qty", d.LoggedQty),
			zap.Float64("exchange_qty", d.ExchangeQty),
		}
		if d.Closed {
			s.log.Info("position closed on exchange", fields...)
			continue
		}
		// Partial closes and manual trades leave the log and the account apart.
		s.log.Warn("position differs from execution log", fields...)
	}
}
