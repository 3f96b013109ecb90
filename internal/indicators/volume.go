package indicators

// VolumeAverage returns, for each bar, the mean volume of the period bars
// before it. The current bar is excluded so a spike is measured against prior
// activity. Defined from index period.
func VolumeAverage(volume []float64, period int) []float64 {
	out := nanSeries(len(volume))
	if period <= 0 {
		return out
	}

	sum := 0.0
	for i := 0; i < len(volume); i++ {
		if i >= period {
			out[i] = sum / float64(period)
			sum -= volume[i-period]
		}
		sum += volume[i]
	}
	return out
}
