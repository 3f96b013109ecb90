package db

import (
	"errors"
	"time"
)

var (
	// ErrDuplicate is returned when a signal already exists for the same
	// (symbol, timeframe, direction, bar time).
	ErrDuplicate = errors.New("record already exists")
	ErrNotFound  = errors.New("record not found")
)

// Signal statuses. active is the only non-terminal status.
const (
	SignalActive   = "active"
	SignalExecuted = "executed"
	SignalExpired  = "expired"
)

// Execution statuses and outcomes.
const (
	ExecutionOpen   = "open"
	ExecutionClosed = "closed"
	ExecutionFailed = "failed"

	OutcomeSuccess  = "success"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
	OutcomeUnknown  = "unknown" // primary order lost in transit
)

// Signal is a persisted signal candidate.
type Signal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Direction  string    `json:"direction"`
	BarTime    time.Time `json:"bar_time"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	RiskReward float64   `json:"risk_reward"`
	Confidence float64   `json:"confidence"`
	Grade      string    `json:"grade"`
	Conditions string    `json:"conditions"` // JSON of primary and optional condition flags
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SignalFilter narrows ListSignals. Zero values match everything.
type SignalFilter struct {
	Status string
	Symbol string
	Limit  int
}

// Execution is one order execution outcome, including failures.
type Execution struct {
	ID              string     `json:"id"`
	IdempotencyKey  string     `json:"idempotency_key"`
	SignalID        string     `json:"signal_id,omitempty"`
	Symbol          string     `json:"symbol"`
	Side            string     `json:"side"`
	Quantity        float64    `json:"quantity"`
	EntryPrice      float64    `json:"entry_price"`
	Leverage        int        `json:"leverage"`
	StopLoss        float64    `json:"stop_loss,omitempty"`
	TakeProfit      float64    `json:"take_profit,omitempty"`
	ExchangeOrderID string     `json:"exchange_order_id,omitempty"`
	Outcome         string     `json:"outcome"`
	Status          string     `json:"status"`
	ReasonCode      string     `json:"reason_code,omitempty"`
	Message         string     `json:"message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

// ExecutionAttempt is one request sent to the exchange for an execution.
type ExecutionAttempt struct {
	ExecutionID     string    `json:"execution_id"`
	Attempt         int       `json:"attempt"`
	Stage           string    `json:"stage"` // primary or protection
	OrderType       string    `json:"order_type"`
	TimeInForce     string    `json:"time_in_force,omitempty"`
	ReduceOnly      bool      `json:"reduce_only"`
	Quantity        float64   `json:"quantity"`
	Price           float64   `json:"price"`
	Leverage        int       `json:"leverage"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	Outcome         string    `json:"outcome"` // accepted, rejected, error
	ErrorCode       int       `json:"error_code,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
