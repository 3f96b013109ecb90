package indicators

import (
	"errors"
	"math"
)

// ErrNotReady is returned when a series is too short for an indicator to be defined.
var ErrNotReady = errors.New("indicators: not enough history")

// Ready reports whether v is a defined indicator value.
func Ready(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// At returns series[i], or ErrNotReady when the index is out of range or the
// value is still inside the lookback.
func At(series []float64, i int) (float64, error) {
	if i < 0 || i >= len(series) || !Ready(series[i]) {
		return 0, ErrNotReady
	}
	return series[i], nil
}

// Last returns the latest value of series.
func Last(series []float64) (float64, error) {
	return At(series, len(series)-1)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func firstReady(values []float64) int {
	for i, v := range values {
		if Ready(v) {
			return i
		}
	}
	return -1
}

// maskBefore overwrites indices below n with NaN. go-talib leaves zeros there.
func maskBefore(series []float64, n int) []float64 {
	for i := 0; i < n && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}
