package instruments

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"signal-core/pkg/cache"
	"signal-core/pkg/logger"
)

// BinanceProvider reads USDT-M futures exchange info, leverage brackets and
// ticker prices. Rules are cached for ttl and refreshed for all symbols at once.
type BinanceProvider struct {
	client           *futures.Client
	signed           bool
	ttl              time.Duration
	fallbackLeverage int
	rules            *cache.Sharded[Rules]
	log              *zap.Logger
}

// NewBinanceProvider creates a provider. Without API credentials leverage
// brackets cannot be read and fallbackLeverage is used as the cap.
func NewBinanceProvider(apiKey, apiSecret string, testnet bool, ttl time.Duration, fallbackLeverage int) *BinanceProvider {
	futures.UseTestnet = testnet
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BinanceProvider{
		client:           futures.NewClient(apiKey, apiSecret),
		signed:           apiKey != "" && apiSecret != "",
		ttl:              ttl,
		fallbackLeverage: fallbackLeverage,
		rules:            cache.NewSharded[Rules](),
		log:              logger.Named("instruments"),
	}
}

func (p *BinanceProvider) Rules(ctx context.Context, symbol string) (Rules, error) {
	if r, age, ok := p.rules.GetWithAge(symbol); ok && age < p.ttl {
		return r, nil
	}

	info, err := p.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return Rules{}, fmt.Errorf("exchange info: %w", err)
	}
	now := time.Now().UTC()
	for _, s := range info.Symbols {
		r := parseSymbol(s.Symbol, s.Status, s.Filters)
		r.MaxLeverage = p.fallbackLeverage
		r.FetchedAt = now
		if cached, ok := p.rules.Get(s.Symbol); ok && cached.MaxLeverage > 0 {
			r.MaxLeverage = cached.MaxLeverage
		}
		p.rules.Set(s.Symbol, r)
	}

	r, ok := p.rules.Get(symbol)
	if !ok {
		return Rules{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if p.signed {
		lev, err := p.maxLeverage(ctx, symbol)
		if err != nil {
			p.log.Warn("leverage bracket unavailable, using fallback",
				zap.String("symbol", symbol), zap.Int("fallback", p.fallbackLeverage), zap.Error(err))
		} else {
			r.MaxLeverage = lev
			p.rules.Set(symbol, r)
		}
	}
	return r, nil
}

func (p *BinanceProvider) maxLeverage(ctx context.Context, symbol string) (int, error) {
	brackets, err := p.client.NewGetLeverageBracketService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	best := 0
	for _, lb := range brackets {
		if lb.Symbol != symbol {
			continue
		}
		for _, b := range lb.Brackets {
			if b.InitialLeverage > best {
				best = b.InitialLeverage
			}
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("no leverage bracket for %s", symbol)
	}
	return best, nil
}

func (p *BinanceProvider) Price(ctx context.Context, symbol string) (float64, error) {
	prices, err := p.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ticker price %s: %w", symbol, err)
	}
	for _, sp := range prices {
		if sp.Symbol == symbol {
			return strconv.ParseFloat(sp.Price, 64)
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

// parseSymbol reads LOT_SIZE, PRICE_FILTER and MIN_NOTIONAL from raw filters.
func parseSymbol(symbol, status string, filters []map[string]interface{}) Rules {
	r := Rules{Symbol: symbol, TradingEnabled: status == "TRADING"}
	for _, f := range filters {
		switch f["filterType"] {
		case "LOT_SIZE":
			r.MinOrderQty = filterFloat(f, "minQty")
			r.MaxOrderQty = filterFloat(f, "maxQty")
			r.QtyStep = filterFloat(f, "stepSize")
		case "PRICE_FILTER":
			r.MinPrice = filterFloat(f, "minPrice")
			r.MaxPrice = filterFloat(f, "maxPrice")
			r.TickSize = filterFloat(f, "tickSize")
		case "MIN_NOTIONAL":
			r.MinNotional = filterFloat(f, "notional")
		}
	}
	return r
}

func filterFloat(f map[string]interface{}, key string) float64 {
	switch v := f[key].(type) {
	case string:
		x, _ := strconv.ParseFloat(v, 64)
		return x
	case float64:
		return v
	default:
		return 0
	}
}
