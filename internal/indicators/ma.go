package indicators

// MAType selects the moving average used for the trend crossover.
type MAType string

const (
	MATypeEMA MAType = "ema"
	MATypeSMA MAType = "sma"
)

// SMA returns the simple moving average series. A leading NaN run (the lookback
// of an upstream indicator) is skipped, so SMA can be chained.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	start := firstReady(values)
	if start < 0 {
		return out
	}

	sum := 0.0
	for i := start; i < len(values); i++ {
		sum += values[i]
		if i-start >= period {
			sum -= values[i-period]
		}
		if i-start >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the exponential moving average series seeded with the first value:
// ema[0] = values[0], ema[i] = values[i]*k + ema[i-1]*(1-k), k = 2/(period+1).
// Indices before period-1 are NaN even though the recurrence starts at 0.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}

	k := 2.0 / float64(period+1)
	ema := values[0]
	for i, v := range values {
		if i > 0 {
			ema = v*k + ema*(1-k)
		}
		if i >= period-1 {
			out[i] = ema
		}
	}
	return out
}

// MovingAverage dispatches on kind; unknown kinds fall back to EMA.
func MovingAverage(kind MAType, values []float64, period int) []float64 {
	if kind == MATypeSMA {
		return SMA(values, period)
	}
	return EMA(values, period)
}
