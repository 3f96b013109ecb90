package order

import (
	"time"

	"signal-core/internal/sizing"
	"signal-core/pkg/db"
	"signal-core/pkg/errs"
	"signal-core/pkg/exchanges/common"
)

// State is a step of the execution state machine.
type State string

const (
	StateValidated    State = "VALIDATED"
	StateSubmitted    State = "SUBMITTED"
	StateFilled       State = "FILLED"
	StateRejected     State = "REJECTED"
	StateUnknown      State = "UNKNOWN"
	StateTPSLAttached State = "TPSL_ATTACHED"
	StateLogged       State = "LOGGED"
)

// Attempt stages.
const (
	StagePrimary    = "primary"
	StageStopLoss   = "stop_loss"
	StageTakeProfit = "take_profit"
)

// Intent is a request to open a position. It is consumed once.
type Intent struct {
	Symbol      string             `json:"symbol" binding:"required"`
	Side        common.Side        `json:"side" binding:"required,oneof=BUY SELL"`
	SizingMode  sizing.Mode        `json:"sizing_mode" binding:"required,oneof=notional risk_percent explicit_qty"`
	Amount      float64            `json:"amount" binding:"gte=0"`
	RiskBudget  float64            `json:"risk_budget" binding:"gte=0"`
	Quantity    float64            `json:"quantity" binding:"gte=0"`
	Leverage    int                `json:"leverage" binding:"required,gt=0"`
	OrderType   common.OrderType   `json:"order_type" binding:"omitempty,oneof=MARKET LIMIT"`
	LimitPrice  float64            `json:"limit_price" binding:"required_if=OrderType LIMIT,gte=0"`
	TimeInForce common.TimeInForce `json:"time_in_force" binding:"omitempty,excluded_unless=OrderType LIMIT,oneof=GTC IOC FOK GTX"`
	ReduceOnly  bool               `json:"reduce_only"`
	StopLoss    float64            `json:"stop_loss" binding:"gte=0"`
	TakeProfit  float64            `json:"take_profit" binding:"gte=0"`

	// IdempotencyKey deduplicates caller retries; generated when empty.
	IdempotencyKey string `json:"idempotency_key"`
	SignalID       string `json:"signal_id,omitempty"`
}

func (in Intent) sizingRequest(price float64) sizing.Request {
	return sizing.Request{
		Mode:       in.SizingMode,
		Amount:     in.Amount,
		RiskBudget: in.RiskBudget,
		Quantity:   in.Quantity,
		Leverage:   in.Leverage,
		Price:      price,
		StopLoss:   in.StopLoss,
	}
}

// Result is the logged outcome of one execution.
type Result struct {
	ExecutionID     string                `json:"execution_id"`
	IdempotencyKey  string                `json:"idempotency_key"`
	SignalID        string                `json:"signal_id,omitempty"`
	Symbol          string                `json:"symbol"`
	Side            common.Side           `json:"side"`
	Quantity        float64               `json:"quantity"`
	EntryPrice      float64               `json:"entry_price"`
	Leverage        int                   `json:"leverage"`
	StopLoss        float64               `json:"stop_loss,omitempty"`
	TakeProfit      float64               `json:"take_profit,omitempty"`
	ExchangeOrderID string                `json:"exchange_order_id,omitempty"`
	Outcome         string                `json:"outcome"`
	ReasonCode      string                `json:"reason_code,omitempty"`
	Message         string                `json:"message,omitempty"`
	DegradedReason  string                `json:"degraded_reason,omitempty"`
	States          []State               `json:"states"`
	Attempts        []db.ExecutionAttempt `json:"attempts"`
	Duplicate       bool                  `json:"duplicate"`
	CreatedAt       time.Time             `json:"created_at"`
}

func (r *Result) enter(s State) {
	r.States = append(r.States, s)
}

func (r Result) record() db.Execution {
	status := db.ExecutionOpen
	if r.Outcome == db.OutcomeFailed {
		status = db.ExecutionFailed
	}
	msg := r.Message
	if r.DegradedReason != "" {
		msg = r.DegradedReason
	}
	return db.Execution{
		ID:              r.ExecutionID,
		IdempotencyKey:  r.IdempotencyKey,
		SignalID:        r.SignalID,
		Symbol:          r.Symbol,
		Side:            string(r.Side),
		Quantity:        r.Quantity,
		EntryPrice:      r.EntryPrice,
		Leverage:        r.Leverage,
		StopLoss:        r.StopLoss,
		TakeProfit:      r.TakeProfit,
		ExchangeOrderID: r.ExchangeOrderID,
		Outcome:         r.Outcome,
		Status:          status,
		ReasonCode:      r.ReasonCode,
		Message:         msg,
		CreatedAt:       r.CreatedAt,
	}
}

// Warning reports a degraded execution as a coded error, nil otherwise.
func (r Result) Warning() error {
	if r.Outcome != db.OutcomeDegraded {
		return nil
	}
	w := errs.New(errs.KindDegraded, CodeProtectionDegraded, r.DegradedReason)
	w.H = hints[CodeProtectionDegraded]
	return w
}

func resultFromRecord(e db.Execution, attempts []db.ExecutionAttempt) Result {
	r := Result{
		ExecutionID:     e.ID,
		IdempotencyKey:  e.IdempotencyKey,
		SignalID:        e.SignalID,
		Symbol:          e.Symbol,
		Side:            common.Side(e.Side),
		Quantity:        e.Quantity,
		EntryPrice:      e.EntryPrice,
		Leverage:        e.Leverage,
		StopLoss:        e.StopLoss,
		TakeProfit:      e.TakeProfit,
		ExchangeOrderID: e.ExchangeOrderID,
		Outcome:         e.Outcome,
		ReasonCode:      e.ReasonCode,
		Message:         e.Message,
		Attempts:        attempts,
		CreatedAt:       e.CreatedAt,
	}
	if e.Outcome == db.OutcomeDegraded {
		r.DegradedReason = e.Message
	}
	return r
}
