package indicators

// Stochastic returns %K over kPeriod and %D as the dPeriod SMA of %K.
// %K is 50 when the high/low range is flat.
func Stochastic(high, low, close []float64, kPeriod, dPeriod int) (k, d []float64) {
	n := minLen(high, low, close)
	k = nanSeries(n)
	if kPeriod <= 0 || dPeriod <= 0 {
		return k, nanSeries(n)
	}

	for i := kPeriod - 1; i < n; i++ {
		hh, ll := high[i], low[i]
		for j := i - kPeriod + 1; j < i; j++ {
			if high[j] > hh {
				hh = high[j]
			}
			if low[j] < ll {
				ll = low[j]
			}
		}
		if hh == ll {
			k[i] = 50
			continue
		}
		k[i] = 100 * (close[i] - ll) / (hh - ll)
	}
	return k, SMA(k, dPeriod)
}
