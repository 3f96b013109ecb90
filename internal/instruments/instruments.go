// Package instruments resolves exchange trading constraints and prices.
package instruments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownSymbol is returned for symbols the exchange does not list.
var ErrUnknownSymbol = errors.New("instruments: unknown symbol")

// Rules are the exchange constraints for one symbol.
type Rules struct {
	Symbol         string    `json:"symbol"`
	MinOrderQty    float64   `json:"min_order_qty"`
	MaxOrderQty    float64   `json:"max_order_qty"`
	QtyStep        float64   `json:"qty_step"`
	MinPrice       float64   `json:"min_price"`
	MaxPrice       float64   `json:"max_price"`
	TickSize       float64   `json:"tick_size"`
	MinNotional    float64   `json:"min_notional"`
	MaxLeverage    int       `json:"max_leverage"`
	TradingEnabled bool      `json:"trading_enabled"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// Provider looks up rules and the current price of a symbol.
type Provider interface {
	Rules(ctx context.Context, symbol string) (Rules, error)
	Price(ctx context.Context, symbol string) (float64, error)
}

// StaticProvider serves fixed rules, for paper trading and tests.
type StaticProvider struct {
	Default   Rules
	BySymbol  map[string]Rules
	PriceFunc func(ctx context.Context, symbol string) (float64, error)
}

func (p *StaticProvider) Rules(_ context.Context, symbol string) (Rules, error) {
	if r, ok := p.BySymbol[symbol]; ok {
		return r, nil
	}
	if p.Default.QtyStep == 0 {
		return Rules{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	r := p.Default
	r.Symbol = symbol
	return r, nil
}

func (p *StaticProvider) Price(ctx context.Context, symbol string) (float64, error) {
	if p.PriceFunc == nil {
		return 0, fmt.Errorf("no price source for %s", symbol)
	}
	return p.PriceFunc(ctx, symbol)
}

// DefaultPaperRules mirrors typical USDT-M perpetual constraints.
func DefaultPaperRules() Rules {
	return Rules{
		MinOrderQty:    0.001,
		MaxOrderQty:    1000,
		QtyStep:        0.001,
		MinPrice:       0.01,
		MaxPrice:       1000000,
		TickSize:       0.01,
		MinNotional:    5,
		MaxLeverage:    125,
		TradingEnabled: true,
	}
}
