package indicators

import "github.com/markcheno/go-talib"

// Bands holds Bollinger Band series.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger computes SMA-based bands at stdDev deviations. Values are defined
// from index period-1.
func Bollinger(close []float64, period int, stdDev float64) Bands {
	n := len(close)
	if period < 2 || n < period {
		return Bands{Upper: nanSeries(n), Middle: nanSeries(n), Lower: nanSeries(n)}
	}
	upper, middle, lower := talib.BBands(close, period, stdDev, stdDev, talib.SMA)
	return Bands{
		Upper:  maskBefore(upper, period-1),
		Middle: maskBefore(middle, period-1),
		Lower:  maskBefore(lower, period-1),
	}
}
