package indicators

import "math"

// DMI holds the directional movement system series.
type DMI struct {
	PlusDI  []float64
	MinusDI []float64
	ADX     []float64
}

// ADX computes +DI, -DI and ADX with Wilder smoothing throughout. DI values are
// defined from index period, ADX from index 2*period-1.
func ADX(high, low, close []float64, period int) DMI {
	n := minLen(high, low, close)
	out := DMI{PlusDI: nanSeries(n), MinusDI: nanSeries(n), ADX: nanSeries(n)}
	if period <= 0 || n <= period {
		return out
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		tr[i] = trueRange(high[i], low[i], close[i-1])
	}

	p := float64(period)
	var sTR, sPlus, sMinus float64
	for i := 1; i <= period; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}

	dx := nanSeries(n)
	emit := func(i int) {
		var pdi, mdi float64
		if sTR > 0 {
			pdi = 100 * sPlus / sTR
			mdi = 100 * sMinus / sTR
		}
		out.PlusDI[i] = pdi
		out.MinusDI[i] = mdi
		if sum := pdi + mdi; sum > 0 {
			dx[i] = 100 * math.Abs(pdi-mdi) / sum
		} else {
			dx[i] = 0
		}
	}

	emit(period)
	for i := period + 1; i < n; i++ {
		sTR = sTR - sTR/p + tr[i]
		sPlus = sPlus - sPlus/p + plusDM[i]
		sMinus = sMinus - sMinus/p + minusDM[i]
		emit(i)
	}

	first := 2*period - 1
	if n <= first {
		return out
	}
	adx := 0.0
	for i := period; i <= first; i++ {
		adx += dx[i]
	}
	adx /= p
	out.ADX[first] = adx
	for i := first + 1; i < n; i++ {
		adx = (adx*(p-1) + dx[i]) / p
		out.ADX[i] = adx
	}
	return out
}
