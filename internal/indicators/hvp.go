package indicators

import (
	"math"

	"github.com/markcheno/go-talib"
)

// HistoricalVolatility is the population standard deviation of log close-to-close
// returns over window bars. Defined from index window.
func HistoricalVolatility(close []float64, window int) []float64 {
	n := len(close)
	out := nanSeries(n)
	if window < 2 || n <= window {
		return out
	}

	returns := make([]float64, n-1)
	for i := 1; i < n; i++ {
		if close[i-1] <= 0 || close[i] <= 0 {
			return out
		}
		returns[i-1] = math.Log(close[i] / close[i-1])
	}

	sd := talib.StdDev(returns, window, 1.0)
	for j := window - 1; j < len(sd); j++ {
		out[j+1] = sd[j]
	}
	return out
}

// HVP ranks the current volatility estimate against the previous history-1
// estimates: 100 * (count strictly below current) / (history-1), in [0,100].
// Defined from index window+history-1.
func HVP(close []float64, window, history int) []float64 {
	vol := HistoricalVolatility(close, window)
	out := nanSeries(len(vol))
	if history < 2 {
		return out
	}

	for i := range vol {
		start := i - history + 1
		if start < 0 || !Ready(vol[start]) || !Ready(vol[i]) {
			continue
		}
		below := 0
		for j := start; j < i; j++ {
			if vol[j] < vol[i] {
				below++
			}
		}
		out[i] = 100 * float64(below) / float64(history-1)
	}
	return out
}
