// Package sizing turns an order intent into an exchange-valid quantity.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signal-core/internal/instruments"
	"signal-core/pkg/errs"
)

// Mode selects how the quantity is derived.
type Mode string

const (
	ModeNotional    Mode = "notional"
	ModeRiskPercent Mode = "risk_percent"
	ModeExplicitQty Mode = "explicit_qty"
)

// DefaultPlatformFloor is the smallest order value accepted, in quote currency.
const DefaultPlatformFloor = 5.0

// Rejection codes.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeTradingDisabled    = "TRADING_DISABLED"
	CodeBelowMinQty        = "BELOW_MIN_QTY"
	CodeAboveMaxQty        = "ABOVE_MAX_QTY"
	CodeBelowMinNotional   = "BELOW_MIN_NOTIONAL"
	CodeBelowPlatformFloor = "BELOW_PLATFORM_FLOOR"
	CodeLeverageExceeded   = "LEVERAGE_EXCEEDED"
	CodePriceOutOfRange    = "PRICE_OUT_OF_RANGE"
)

// Rejection is a validation failure with a remediation hint.
// SuggestedQty, when non-zero, is the smallest quantity that passes every
// quantity constraint; SuggestedAmount is the matching notional-mode amount.
type Rejection struct {
	Reason          string  `json:"code"`
	Message         string  `json:"error"`
	Remedy          string  `json:"hint"`
	SuggestedQty    float64 `json:"suggested_qty,omitempty"`
	SuggestedAmount float64 `json:"suggested_amount,omitempty"`
}

func (r *Rejection) Error() string   { return r.Reason + ": " + r.Message }
func (r *Rejection) Kind() errs.Kind { return errs.KindValidation }
func (r *Rejection) Code() string    { return r.Reason }
func (r *Rejection) Hint() string    { return r.Remedy }

// Request is the sizing part of an order intent.
type Request struct {
	Mode       Mode    `json:"mode"`
	Amount     float64 `json:"amount,omitempty"`
	RiskBudget float64 `json:"risk_budget,omitempty"`
	Quantity   float64 `json:"quantity,omitempty"`
	Leverage   int     `json:"leverage"`
	Price      float64 `json:"price"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
}

// Result is an accepted sizing.
type Result struct {
	Quantity    float64 `json:"quantity"`
	RawQuantity float64 `json:"raw_quantity"`
	Price       float64 `json:"price"`
	Leverage    int     `json:"leverage"`
	Notional    float64 `json:"notional"`
	Margin      float64 `json:"margin"`
}

// Sizer applies instrument rules. It never clamps a value on the caller's
// behalf; anything out of bounds is a Rejection.
type Sizer struct {
	PlatformFloor float64
}

// New creates a sizer; floor <= 0 selects DefaultPlatformFloor.
func New(floor float64) *Sizer {
	if floor <= 0 {
		floor = DefaultPlatformFloor
	}
	return &Sizer{PlatformFloor: floor}
}

// Size computes and validates the order quantity.
func (s *Sizer) Size(req Request, rules instruments.Rules) (Result, error) {
	if !rules.TradingEnabled {
		return Result{}, &Rejection{
			Reason:  CodeTradingDisabled,
			Message: fmt.Sprintf("%s is not trading", rules.Symbol),
			Remedy:  "wait for the symbol to resume trading",
		}
	}
	if req.Price <= 0 || req.Leverage <= 0 {
		return Result{}, invalid("price and leverage must be positive")
	}
	if rules.QtyStep <= 0 {
		return Result{}, invalid("instrument has no quantity step")
	}

	price := decimal.NewFromFloat(req.Price)
	lev := decimal.NewFromInt(int64(req.Leverage))

	raw, err := rawQuantity(req, price, lev)
	if err != nil {
		return Result{}, err
	}

	step := decimal.NewFromFloat(rules.QtyStep)
	qty := FloorToStep(raw, step)

	res := Result{
		Quantity:    qty.InexactFloat64(),
		RawQuantity: raw.InexactFloat64(),
		Price:       req.Price,
		Leverage:    req.Leverage,
		Notional:    qty.Mul(price).InexactFloat64(),
		Margin:      qty.Mul(price).Div(lev).InexactFloat64(),
	}

	minQty := decimal.NewFromFloat(rules.MinOrderQty)
	if qty.LessThan(minQty) || qty.Sign() <= 0 {
		return Result{}, s.reject(CodeBelowMinQty, req, rules,
			fmt.Sprintf("quantity %s below minimum %s", qty, minQty))
	}
	if rules.MaxOrderQty > 0 {
		maxQty := decimal.NewFromFloat(rules.MaxOrderQty)
		if qty.GreaterThan(maxQty) {
			capped := FloorToStep(maxQty, step)
			return Result{}, &Rejection{
				Reason:          CodeAboveMaxQty,
				Message:         fmt.Sprintf("quantity %s above maximum %s", qty, maxQty),
				Remedy:          fmt.Sprintf("reduce quantity to at most %s", capped),
				SuggestedQty:    capped.InexactFloat64(),
				SuggestedAmount: capped.Mul(price).Div(lev).InexactFloat64(),
			}
		}
	}
	// qty*price/lev >= minNotional, compared as qty*price >= minNotional*lev.
	minNotional := decimal.NewFromFloat(rules.MinNotional)
	if qty.Mul(price).LessThan(minNotional.Mul(lev)) {
		return Result{}, s.reject(CodeBelowMinNotional, req, rules,
			fmt.Sprintf("notional %s below minimum %s", qty.Mul(price).Div(lev).StringFixed(4), minNotional))
	}
	floor := decimal.NewFromFloat(s.PlatformFloor)
	if qty.Mul(price).LessThan(floor) {
		return Result{}, s.reject(CodeBelowPlatformFloor, req, rules,
			fmt.Sprintf("order value %s below platform floor %s", qty.Mul(price).StringFixed(4), floor))
	}
	if rules.MaxLeverage > 0 && req.Leverage > rules.MaxLeverage {
		return Result{}, &Rejection{
			Reason:  CodeLeverageExceeded,
			Message: fmt.Sprintf("leverage %dx above maximum %dx", req.Leverage, rules.MaxLeverage),
			Remedy:  fmt.Sprintf("use leverage of at most %dx", rules.MaxLeverage),
		}
	}
	return res, nil
}

func rawQuantity(req Request, price, lev decimal.Decimal) (decimal.Decimal, error) {
	switch req.Mode {
	case ModeNotional:
		if req.Amount <= 0 {
			return decimal.Zero, invalid("amount must be positive")
		}
		return decimal.NewFromFloat(req.Amount).Mul(lev).Div(price), nil
	case ModeRiskPercent:
		if req.RiskBudget <= 0 {
			return decimal.Zero, invalid("risk budget must be positive")
		}
		if req.StopLoss <= 0 {
			return decimal.Zero, invalid("risk sizing requires a stop loss")
		}
		stop := decimal.NewFromFloat(req.StopLoss)
		dist := price.Sub(stop).Abs()
		if dist.IsZero() {
			return decimal.Zero, invalid("stop loss equals price")
		}
		frac := dist.Div(price)
		return decimal.NewFromFloat(req.RiskBudget).Mul(lev).Div(price.Mul(frac)), nil
	case ModeExplicitQty:
		if req.Quantity <= 0 {
			return decimal.Zero, invalid("quantity must be positive")
		}
		return decimal.NewFromFloat(req.Quantity), nil
	default:
		return decimal.Zero, invalid(fmt.Sprintf("unknown sizing mode %q", req.Mode))
	}
}

func (s *Sizer) reject(code string, req Request, rules instruments.Rules, msg string) *Rejection {
	q := s.MinimumQuantity(req.Price, req.Leverage, rules)
	price := decimal.NewFromFloat(req.Price)
	amount := q.Mul(price).Div(decimal.NewFromInt(int64(req.Leverage)))
	return &Rejection{
		Reason:          code,
		Message:         msg,
		Remedy:          fmt.Sprintf("increase quantity to at least %s (amount %s at %dx)", q, amount.StringFixed(2), req.Leverage),
		SuggestedQty:    q.InexactFloat64(),
		SuggestedAmount: amount.InexactFloat64(),
	}
}

// MinimumQuantity is the smallest step multiple satisfying the minimum
// quantity, the minimum notional and the platform floor at price and leverage.
func (s *Sizer) MinimumQuantity(price float64, leverage int, rules instruments.Rules) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	lev := decimal.NewFromInt(int64(leverage))
	step := decimal.NewFromFloat(rules.QtyStep)
	minNotional := decimal.NewFromFloat(rules.MinNotional)
	floor := decimal.NewFromFloat(s.PlatformFloor)

	need := decimal.NewFromFloat(rules.MinOrderQty)
	need = decimal.Max(need, minNotional.Mul(lev).Div(p))
	need = decimal.Max(need, floor.Div(p))
	q := CeilToStep(need, step)
	if q.IsZero() {
		q = step
	}
	// Division is rounded; confirm by multiplication and bump one step if short.
	for q.Mul(p).LessThan(minNotional.Mul(lev)) || q.Mul(p).LessThan(floor) {
		q = q.Add(step)
	}
	return q
}

// FloorToStep rounds v down to a multiple of step.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// CeilToStep rounds v up to a multiple of step.
func CeilToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Ceil().Mul(step)
}

// RoundPrice rounds price to the nearest tick and checks the price band.
func RoundPrice(price float64, rules instruments.Rules) (float64, error) {
	p := decimal.NewFromFloat(price)
	if rules.TickSize > 0 {
		tick := decimal.NewFromFloat(rules.TickSize)
		p = p.Div(tick).Round(0).Mul(tick)
	}
	if (rules.MinPrice > 0 && p.LessThan(decimal.NewFromFloat(rules.MinPrice))) ||
		(rules.MaxPrice > 0 && p.GreaterThan(decimal.NewFromFloat(rules.MaxPrice))) {
		return 0, &Rejection{
			Reason:  CodePriceOutOfRange,
			Message: fmt.Sprintf("price %s outside [%v, %v]", p, rules.MinPrice, rules.MaxPrice),
			Remedy:  "move the stop or target inside the instrument price band",
		}
	}
	return p.InexactFloat64(), nil
}

func invalid(msg string) *Rejection {
	return &Rejection{Reason: CodeInvalidRequest, Message: msg, Remedy: "fix the order intent and resubmit"}
}
