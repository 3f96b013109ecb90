package indicators

import "fmt"

// Series is an ascending OHLCV series.
type Series struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// Len returns the number of complete bars.
func (s Series) Len() int {
	return minLen(s.Open, s.High, s.Low, s.Close, s.Volume)
}

// Params configures every indicator computed for a snapshot.
type Params struct {
	MAType          MAType  `yaml:"ma_type" json:"ma_type" validate:"omitempty,oneof=ema sma"`
	FastPeriod      int     `yaml:"fast_period" json:"fast_period" validate:"gt=0"`
	SlowPeriod      int     `yaml:"slow_period" json:"slow_period" validate:"gtfield=FastPeriod"`
	VolumePeriod    int     `yaml:"volume_period" json:"volume_period" validate:"gt=0"`
	ATRPeriod       int     `yaml:"atr_period" json:"atr_period" validate:"gt=0"`
	RSIPeriod       int     `yaml:"rsi_period" json:"rsi_period" validate:"gt=0"`
	ADXPeriod       int     `yaml:"adx_period" json:"adx_period" validate:"gt=0"`
	StochKPeriod    int     `yaml:"stoch_k_period" json:"stoch_k_period" validate:"gt=0"`
	StochDPeriod    int     `yaml:"stoch_d_period" json:"stoch_d_period" validate:"gt=0"`
	BollingerPeriod int     `yaml:"bollinger_period" json:"bollinger_period" validate:"gt=1"`
	BollingerStdDev float64 `yaml:"bollinger_stddev" json:"bollinger_stddev" validate:"gt=0"`
	HVPWindow       int     `yaml:"hvp_window" json:"hvp_window" validate:"gt=1"`
	HVPHistory      int     `yaml:"hvp_history" json:"hvp_history" validate:"gt=1"`
	HVPMAPeriod     int     `yaml:"hvp_ma_period" json:"hvp_ma_period" validate:"gt=0"`
}

// DefaultParams returns the periods used when nothing is configured.
func DefaultParams() Params {
	return Params{
		MAType:          MATypeEMA,
		FastPeriod:      9,
		SlowPeriod:      21,
		VolumePeriod:    20,
		ATRPeriod:       14,
		RSIPeriod:       14,
		ADXPeriod:       14,
		StochKPeriod:    14,
		StochDPeriod:    3,
		BollingerPeriod: 20,
		BollingerStdDev: 2,
		HVPWindow:       20,
		HVPHistory:      100,
		HVPMAPeriod:     5,
	}
}

// Lookback returns the index of the first bar at which every indicator is defined.
func (p Params) Lookback() int {
	return maxInt(
		p.SlowPeriod-1,
		p.FastPeriod-1,
		p.VolumePeriod,
		p.ATRPeriod,
		p.RSIPeriod,
		2*p.ADXPeriod-1,
		p.StochKPeriod+p.StochDPeriod-2,
		p.BollingerPeriod-1,
		p.HVPWindow+p.HVPHistory-1+p.HVPMAPeriod-1,
	)
}

// MinBars is the number of candles needed for both a current and a previous snapshot.
func (p Params) MinBars() int {
	return p.Lookback() + 2
}

// Snapshot is the indicator state at one bar.
type Snapshot struct {
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	FastMA      float64 `json:"fast_ma"`
	SlowMA      float64 `json:"slow_ma"`
	VolumeAvg   float64 `json:"volume_avg"`
	VolumeRatio float64 `json:"volume_ratio"`
	ATR         float64 `json:"atr"`
	RSI         float64 `json:"rsi"`
	ADX         float64 `json:"adx"`
	PlusDI      float64 `json:"plus_di"`
	MinusDI     float64 `json:"minus_di"`
	StochK      float64 `json:"stoch_k"`
	StochD      float64 `json:"stoch_d"`
	BBUpper     float64 `json:"bb_upper"`
	BBMiddle    float64 `json:"bb_middle"`
	BBLower     float64 `json:"bb_lower"`
	HVP         float64 `json:"hvp"`
	HVPMA       float64 `json:"hvp_ma"`
}

// Values returns the snapshot as a named mapping for audit logs.
func (s Snapshot) Values() map[string]float64 {
	return map[string]float64{
		"close":        s.Close,
		"volume":       s.Volume,
		"fast_ma":      s.FastMA,
		"slow_ma":      s.SlowMA,
		"volume_avg":   s.VolumeAvg,
		"volume_ratio": s.VolumeRatio,
		"atr":          s.ATR,
		"rsi":          s.RSI,
		"adx":          s.ADX,
		"plus_di":      s.PlusDI,
		"minus_di":     s.MinusDI,
		"stoch_k":      s.StochK,
		"stoch_d":      s.StochD,
		"bb_upper":     s.BBUpper,
		"bb_middle":    s.BBMiddle,
		"bb_lower":     s.BBLower,
		"hvp":          s.HVP,
		"hvp_ma":       s.HVPMA,
	}
}

func (s Snapshot) ready() bool {
	for _, v := range s.Values() {
		if !Ready(v) {
			return false
		}
	}
	return true
}

// Pair is the current bar's snapshot and the one before it.
type Pair struct {
	Current  Snapshot
	Previous Snapshot
}

// Compute builds the current and previous snapshots for the last two bars of s.
// It returns ErrNotReady when either snapshot has an undefined value.
func Compute(s Series, p Params) (Pair, error) {
	n := s.Len()
	if n < p.MinBars() {
		return Pair{}, fmt.Errorf("%w: have %d bars, need %d", ErrNotReady, n, p.MinBars())
	}

	fast := MovingAverage(p.MAType, s.Close, p.FastPeriod)
	slow := MovingAverage(p.MAType, s.Close, p.SlowPeriod)
	volAvg := VolumeAverage(s.Volume, p.VolumePeriod)
	atr := ATR(s.High, s.Low, s.Close, p.ATRPeriod)
	rsi := RSI(s.Close, p.RSIPeriod)
	dmi := ADX(s.High, s.Low, s.Close, p.ADXPeriod)
	stochK, stochD := Stochastic(s.High, s.Low, s.Close, p.StochKPeriod, p.StochDPeriod)
	bands := Bollinger(s.Close, p.BollingerPeriod, p.BollingerStdDev)
	hvp := HVP(s.Close, p.HVPWindow, p.HVPHistory)
	hvpMA := SMA(hvp, p.HVPMAPeriod)

	at := func(i int) Snapshot {
		snap := Snapshot{
			Close:     s.Close[i],
			Volume:    s.Volume[i],
			FastMA:    fast[i],
			SlowMA:    slow[i],
			VolumeAvg: volAvg[i],
			ATR:       atr[i],
			RSI:       rsi[i],
			ADX:       dmi.ADX[i],
			PlusDI:    dmi.PlusDI[i],
			MinusDI:   dmi.MinusDI[i],
			StochK:    stochK[i],
			StochD:    stochD[i],
			BBUpper:   bands.Upper[i],
			BBMiddle:  bands.Middle[i],
			BBLower:   bands.Lower[i],
			HVP:       hvp[i],
			HVPMA:     hvpMA[i],
		}
		if snap.VolumeAvg > 0 {
			snap.VolumeRatio = snap.Volume / snap.VolumeAvg
		}
		return snap
	}

	pair := Pair{Current: at(n - 1), Previous: at(n - 2)}
	if !pair.Current.ready() || !pair.Previous.ready() {
		return Pair{}, ErrNotReady
	}
	return pair, nil
}

func maxInt(vals ...int) int {
	m := 0
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}
