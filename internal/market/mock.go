package market

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"
)

// MockSource generates a deterministic random walk per (symbol, timeframe) for
// local development without exchange access.
type MockSource struct {
	StartPrice float64
	Step       float64 // max relative move per bar
	Now        func() time.Time
}

// Candles returns limit synthetic closed candles ending at the last closed bar.
func (m *MockSource) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf, err := TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	price := m.StartPrice
	if price == 0 {
		price = 100.0
	}
	step := m.Step
	if step == 0 {
		step = 0.01
	}

	h := fnv.New64a()
	h.Write([]byte(symbol + "|" + timeframe))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	last := now().UTC().Truncate(tf).Add(-tf)
	out := make([]Candle, limit)
	for i := 0; i < limit; i++ {
		open := price
		// simple random walk
		price *= 1 + (rng.Float64()*2-1)*step
		high := max(open, price) * (1 + rng.Float64()*step/2)
		low := min(open, price) * (1 - rng.Float64()*step/2)
		out[i] = Candle{
			Time:   last.Add(-time.Duration(limit-1-i) * tf),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: 100 + rng.Float64()*100,
		}
	}
	return out, nil
}
