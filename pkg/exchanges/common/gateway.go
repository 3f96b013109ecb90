package common

import "context"

// Gateway abstracts a trading venue.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	// SetLeverage sets the initial leverage used for new positions on symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// Positions returns open positions; symbol may be empty for all.
	Positions(ctx context.Context, symbol string) ([]Position, error)
}
