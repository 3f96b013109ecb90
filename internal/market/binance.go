package market

import (
	"context"
	"time"

	binance "signal-core/pkg/market/binance"
)

// BinanceSource reads candles from the futures klines endpoint.
type BinanceSource struct {
	Client *binance.Client
	Now    func() time.Time
}

// NewBinanceSource wraps a market data client.
func NewBinanceSource(client *binance.Client) *BinanceSource {
	return &BinanceSource{Client: client, Now: time.Now}
}

// Candles returns closed candles only; the forming bar is dropped.
func (s *BinanceSource) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	// one extra for the forming bar
	klines, err := s.Client.Klines(ctx, symbol, timeframe, limit+1)
	if err != nil {
		return nil, err
	}

	nowMs := s.Now().UnixMilli()
	out := make([]Candle, 0, len(klines))
	for _, k := range klines {
		if k.CloseTime > nowMs {
			continue
		}
		out = append(out, Candle{
			Time:   time.UnixMilli(k.OpenTime).UTC(),
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Volume,
		})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}
