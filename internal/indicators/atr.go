package indicators

import "math"

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|) per bar.
// Index 0 has no previous close and is NaN.
func TrueRange(high, low, close []float64) []float64 {
	n := minLen(high, low, close)
	out := nanSeries(n)
	for i := 1; i < n; i++ {
		out[i] = trueRange(high[i], low[i], close[i-1])
	}
	return out
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATR is the simple mean of the true range over period bars. The first value is
// defined at index period.
func ATR(high, low, close []float64, period int) []float64 {
	tr := TrueRange(high, low, close)
	out := nanSeries(len(tr))
	if period <= 0 {
		return out
	}

	sum := 0.0
	for i := 1; i < len(tr); i++ {
		sum += tr[i]
		if i > period {
			sum -= tr[i-period]
		}
		if i >= period {
			out[i] = sum / float64(period)
		}
	}
	return out
}

func minLen(series ...[]float64) int {
	n := -1
	for _, s := range series {
		if n < 0 || len(s) < n {
			n = len(s)
		}
	}
	if n < 0 {
		return 0
	}
	return n
}
