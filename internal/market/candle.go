package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"signal-core/internal/indicators"
)

var (
	// ErrInsufficientData signals fewer candles than an evaluation needs.
	ErrInsufficientData = errors.New("market: insufficient data")
	// ErrMalformedCandle signals a candle that cannot be used as indicator input.
	ErrMalformedCandle = errors.New("market: malformed candle")
)

// Candle is one closed OHLCV bar. Time is the bar open time.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Source returns up to limit of the most recent closed candles, ascending.
// Sources never pad a short history.
type Source interface {
	Candles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// Validate checks ordering and value sanity of an ascending series.
func Validate(candles []Candle) error {
	for i, c := range candles {
		switch {
		case c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0:
			return fmt.Errorf("%w: non-positive price at %s", ErrMalformedCandle, c.Time.UTC().Format(time.RFC3339))
		case c.High < c.Low:
			return fmt.Errorf("%w: high below low at %s", ErrMalformedCandle, c.Time.UTC().Format(time.RFC3339))
		case c.Volume < 0:
			return fmt.Errorf("%w: negative volume at %s", ErrMalformedCandle, c.Time.UTC().Format(time.RFC3339))
		case i > 0 && !c.Time.After(candles[i-1].Time):
			return fmt.Errorf("%w: timestamps not ascending at index %d", ErrMalformedCandle, i)
		}
	}
	return nil
}

// ToSeries converts candles into indicator input.
func ToSeries(candles []Candle) indicators.Series {
	s := indicators.Series{
		Open:   make([]float64, len(candles)),
		High:   make([]float64, len(candles)),
		Low:    make([]float64, len(candles)),
		Close:  make([]float64, len(candles)),
		Volume: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.Open[i] = c.Open
		s.High[i] = c.High
		s.Low[i] = c.Low
		s.Close[i] = c.Close
		s.Volume[i] = c.Volume
	}
	return s
}

// TimeframeDuration parses Binance interval names (1m, 15m, 1h, 4h, 1d, 1w).
func TimeframeDuration(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	d := time.Duration(n)
	switch tf[len(tf)-1] {
	case 'm':
		return d * time.Minute, nil
	case 'h':
		return d * time.Hour, nil
	case 'd':
		return d * 24 * time.Hour, nil
	case 'w':
		return d * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
}
