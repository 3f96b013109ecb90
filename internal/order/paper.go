package order

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/logger"
)

// PriceSource quotes the current price of a symbol.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// PaperGateway simulates a one-way futures account. Market orders fill at
// the quoted price with random slippage; reduce-only orders without an
// opposing position are rejected the way the exchange rejects them.
type PaperGateway struct {
	Prices      PriceSource
	SlippageBps float64
	// Reject, when set, is consulted before every order and may return an
	// error to simulate a venue rejection.
	Reject func(req common.OrderRequest) error

	mu          sync.Mutex
	rng         *rand.Rand
	nextID      int64
	positions   map[string]*paperPosition
	protections map[string][]paperOrder
	leverage    map[string]int
	orders      []common.OrderRequest
	log         *zap.Logger
}

type paperPosition struct {
	Qty        float64 // signed
	EntryPrice float64
}

type paperOrder struct {
	ID  string
	Req common.OrderRequest
}

func NewPaperGateway(prices PriceSource, slippageBps float64) *PaperGateway {
	return &PaperGateway{
		Prices:      prices,
		SlippageBps: slippageBps,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		positions:   make(map[string]*paperPosition),
		protections: make(map[string][]paperOrder),
		leverage:    make(map[string]int),
		log:         logger.Named("paper"),
	}
}

func (g *PaperGateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if g.Reject != nil {
		if err := g.Reject(req); err != nil {
			return common.OrderResult{}, err
		}
	}

	g.mu.Lock()
	g.orders = append(g.orders, req)
	g.nextID++
	id := strconv.FormatInt(g.nextID, 10)
	g.mu.Unlock()

	switch req.Type {
	case common.OrderTypeStopMarket, common.OrderTypeTakeProfitMarket:
		return g.protect(id, req)
	case common.OrderTypeMarket, common.OrderTypeLimit:
	default:
		return common.OrderResult{}, &common.APIError{Code: -1116, Message: "Invalid orderType."}
	}

	price := req.Price
	if req.Type == common.OrderTypeMarket {
		p, err := g.Prices.Price(ctx, req.Symbol)
		if err != nil {
			return common.OrderResult{}, fmt.Errorf("paper price %s: %w", req.Symbol, err)
		}
		price = g.slip(p, req.Side)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	signed := req.Qty
	if req.Side == common.SideSell {
		signed = -req.Qty
	}
	pos := g.positions[req.Symbol]
	if req.ReduceOnly && (pos == nil || pos.Qty*signed >= 0) {
		return common.OrderResult{}, &common.APIError{Code: -2022, Message: "ReduceOnly Order is rejected."}
	}
	g.apply(req.Symbol, signed, price)

	g.log.Info("paper fill",
		zap.String("symbol", req.Symbol), zap.String("side", string(req.Side)),
		zap.Float64("qty", req.Qty), zap.Float64("price", price))
	return common.OrderResult{
		ExchangeOrderID: id,
		Status:          common.StatusFilled,
		ClientID:        req.ClientID,
		ExecutedQty:     req.Qty,
		AvgPrice:        price,
	}, nil
}

func (g *PaperGateway) protect(id string, req common.OrderRequest) (common.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if req.ClosePosition {
		pos := g.positions[req.Symbol]
		if pos == nil || pos.Qty == 0 {
			return common.OrderResult{}, &common.APIError{Code: -2021, Message: "Order would immediately trigger."}
		}
	}
	g.protections[req.Symbol] = append(g.protections[req.Symbol], paperOrder{ID: id, Req: req})
	return common.OrderResult{ExchangeOrderID: id, Status: common.StatusNew, ClientID: req.ClientID}, nil
}

func (g *PaperGateway) slip(price float64, side common.Side) float64 {
	frac := g.SlippageBps / 10000.0
	if frac <= 0 {
		return price
	}
	g.mu.Lock()
	noise := g.rng.Float64() * frac
	g.mu.Unlock()
	if side == common.SideBuy {
		return price * (1 + noise)
	}
	return price * (1 - noise)
}

// apply updates the net position; callers hold mu.
func (g *PaperGateway) apply(symbol string, signed, price float64) {
	pos, ok := g.positions[symbol]
	if !ok {
		g.positions[symbol] = &paperPosition{Qty: signed, EntryPrice: price}
		return
	}
	switch {
	case pos.Qty*signed > 0:
		total := pos.Qty*pos.EntryPrice + signed*price
		pos.Qty += signed
		pos.EntryPrice = total / pos.Qty
	default:
		remaining := pos.Qty + signed
		if math.Abs(remaining) < 1e-12 {
			delete(g.positions, symbol)
			delete(g.protections, symbol)
			return
		}
		if remaining*pos.Qty < 0 {
			pos.EntryPrice = price
		}
		pos.Qty = remaining
	}
}

func (g *PaperGateway) CancelOrder(_ context.Context, symbol, exchangeOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := g.protections[symbol]
	for i, o := range list {
		if o.ID == exchangeOrderID {
			g.protections[symbol] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return &common.APIError{Code: -2011, Message: "Unknown order sent."}
}

func (g *PaperGateway) SetLeverage(_ context.Context, symbol string, leverage int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leverage[symbol] = leverage
	return nil
}

func (g *PaperGateway) Positions(_ context.Context, symbol string) ([]common.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []common.Position
	for sym, p := range g.positions {
		if symbol != "" && sym != symbol {
			continue
		}
		out = append(out, common.Position{
			Symbol:       sym,
			PositionSide: "BOTH",
			Amount:       p.Qty,
			EntryPrice:   p.EntryPrice,
			Leverage:     g.leverage[sym],
		})
	}
	return out, nil
}

// Orders returns every order request received, in order.
func (g *PaperGateway) Orders() []common.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.OrderRequest(nil), g.orders...)
}

// Protections returns the resting protection orders for symbol.
func (g *PaperGateway) Protections(symbol string) []common.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]common.OrderRequest, 0, len(g.protections[symbol]))
	for _, o := range g.protections[symbol] {
		out = append(out, o.Req)
	}
	return out
}
