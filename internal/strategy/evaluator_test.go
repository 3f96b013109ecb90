package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/cooldown"
	"signal-core/internal/indicators"
	"signal-core/internal/market"
)

var barTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// goldenCross returns a pair where fast crosses above slow with strong volume
// and an elevated volatility regime.
func goldenCross() indicators.Pair {
	prev := indicators.Snapshot{
		Close: 100, Volume: 100, FastMA: 99, SlowMA: 100, VolumeAvg: 100, VolumeRatio: 1,
		ATR: 2, ADX: 30, PlusDI: 28, MinusDI: 18, StochK: 40, StochD: 45, HVP: 60, HVPMA: 55,
	}
	cur := prev
	cur.Close = 102
	cur.Volume = 200
	cur.VolumeRatio = 2
	cur.FastMA = 101
	cur.SlowMA = 100.5
	cur.StochK = 55
	cur.StochD = 48
	cur.HVP = 65
	return indicators.Pair{Current: cur, Previous: prev}
}

func input(pair indicators.Pair) Input {
	return Input{Symbol: "BTCUSDT", Timeframe: "1h", BarTime: barTime, Snapshots: pair, Now: barTime.Add(time.Hour)}
}

func TestAssessLong(t *testing.T) {
	rules := DefaultRules()
	c, reason := Assess(Long, rules, input(goldenCross()))
	require.Empty(t, reason)

	assert.Equal(t, Long, c.Direction)
	assert.Equal(t, 102.0, c.EntryPrice)
	assert.InDelta(t, 99.0, c.StopLoss, 1e-9)
	assert.InDelta(t, 108.0, c.TakeProfit, 1e-9)
	assert.InDelta(t, 2.0, c.RiskReward, 1e-9)
	// 70 + volume 10 + volatility 7.5 + momentum 5 + trend 5 = 97.5, clamped
	assert.Equal(t, 95.0, c.Confidence)
	assert.Equal(t, GradeA, c.Grade)
	assert.True(t, c.Primary[CondCrossover])
	assert.True(t, c.Optional[ConfMomentum])
	assert.True(t, c.Optional[ConfTrendStrength])
	assert.Equal(t, barTime.Add(4*time.Hour), c.ExpiresAt)

	_, reason = Assess(Short, rules, input(goldenCross()))
	assert.Contains(t, reason, CondCrossover)
}

func TestAssessRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Rules, *indicators.Pair)
		reason string
	}{
		{
			name:   "no cross when already above",
			mutate: func(_ *Rules, p *indicators.Pair) { p.Previous.FastMA = 101 },
			reason: CondCrossover,
		},
		{
			name:   "weak volume",
			mutate: func(_ *Rules, p *indicators.Pair) { p.Current.VolumeRatio = 1.2 },
			reason: CondVolume,
		},
		{
			name: "quiet volatility",
			mutate: func(_ *Rules, p *indicators.Pair) {
				p.Current.HVP = 30
				p.Current.HVPMA = 40
			},
			reason: CondVolatility,
		},
		{
			name: "enabled momentum filter vetoes",
			mutate: func(r *Rules, p *indicators.Pair) {
				r.Momentum.Enabled = true
				p.Current.StochK = 40
			},
			reason: ConfMomentum,
		},
		{
			name: "enabled momentum filter vetoes from overbought",
			mutate: func(r *Rules, p *indicators.Pair) {
				r.Momentum.Enabled = true
				p.Previous.StochK = 85
				p.Previous.StochD = 86
				p.Current.StochK = 90
				p.Current.StochD = 87
			},
			reason: ConfMomentum,
		},
		{
			name: "enabled trend filter vetoes weak adx",
			mutate: func(r *Rules, p *indicators.Pair) {
				r.TrendStrength.Enabled = true
				p.Current.ADX = 20
			},
			reason: ConfTrendStrength,
		},
		{
			name: "enabled trend filter vetoes opposing di",
			mutate: func(r *Rules, p *indicators.Pair) {
				r.TrendStrength.Enabled = true
				p.Current.MinusDI = 35
			},
			reason: ConfTrendStrength,
		},
		{
			name:   "risk reward below minimum",
			mutate: func(r *Rules, _ *indicators.Pair) { r.TakeProfitATR = 1.5; r.MinRiskReward = 1.5 + 0.1 },
			reason: "risk/reward",
		},
		{
			name:   "zero atr",
			mutate: func(_ *Rules, p *indicators.Pair) { p.Current.ATR = 0 },
			reason: "zero stop distance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := DefaultRules()
			pair := goldenCross()
			tt.mutate(&rules, &pair)
			_, reason := Assess(Long, rules, input(pair))
			assert.Contains(t, reason, tt.reason)
		})
	}
}

func TestHVPModes(t *testing.T) {
	pair := goldenCross()
	pair.Current.HVP = 45 // below threshold, above its MA
	pair.Current.HVPMA = 40

	rules := DefaultRules()
	for mode, want := range map[string]bool{
		HVPModeEither:    true,
		HVPModeMA:        true,
		HVPModeThreshold: false,
	} {
		rules.HVPMode = mode
		_, reason := Assess(Long, rules, input(pair))
		assert.Equal(t, want, reason == "", mode)
	}
}

func TestCrossoverIsStrict(t *testing.T) {
	// identical consecutive bars never cross
	for _, v := range [][2]float64{{1, 2}, {2, 1}, {1, 1}} {
		assert.False(t, crossed(Long, v[0], v[1], v[0], v[1]))
		assert.False(t, crossed(Short, v[0], v[1], v[0], v[1]))
	}
	assert.True(t, crossed(Long, 1, 1, 2, 1))
	assert.True(t, crossed(Short, 2, 1, 1, 2))
	assert.False(t, crossed(Long, 2, 1, 3, 1))
}

func TestConfidenceAlwaysClamped(t *testing.T) {
	s := DefaultRules().Scoring
	for _, ratio := range []float64{0, 0.5, 1, 1.5, 2, 5, 100, math.NaN()} {
		for _, hvp := range []float64{0, 30, 50, 65, 100} {
			for conf := 0; conf <= 2; conf++ {
				c := s.Confidence(ScoreInput{VolumeRatio: ratio, HVP: hvp, HVPThreshold: 50, Confirmations: conf})
				assert.GreaterOrEqual(t, c, 70.0)
				assert.LessOrEqual(t, c, 95.0)
			}
		}
	}
}

func TestGradeFor(t *testing.T) {
	tiers := DefaultGrades()
	tests := []struct {
		conf, rr float64
		want     Grade
	}{
		{95, 3.0, GradeAPlus},
		{90, 2.5, GradeAPlus},
		{95, 2.0, GradeA},
		{85, 2.0, GradeA},
		{89, 2.6, GradeA},
		{80, 3.0, GradeB},
		{95, 1.5, GradeB},
		{74, 3.0, GradeC},
		{95, 1.2, GradeC},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeFor(tiers, tt.conf, tt.rr), "conf=%v rr=%v", tt.conf, tt.rr)
		// pure: same inputs, same grade
		assert.Equal(t, GradeFor(tiers, tt.conf, tt.rr), GradeFor(tiers, tt.conf, tt.rr))
	}
}

func TestTieBreakPrefersConfiguredPriority(t *testing.T) {
	short := Candidate{Direction: Short, Confidence: 95}
	long := Candidate{Direction: Long, Confidence: 80}

	ranked := rankByPriority([]Candidate{short, long}, DefaultRules().priority())
	require.Len(t, ranked, 2)
	assert.Equal(t, Long, ranked[0].Direction, "LONG wins by default regardless of score or order")

	ranked = rankByPriority([]Candidate{long, short}, []Direction{Short, Long})
	assert.Equal(t, Short, ranked[0].Direction)

	rules := DefaultRules()
	rules.DirectionPriority = []Direction{Short}
	assert.Equal(t, []Direction{Short, Long}, rules.priority())
}

func TestEvaluateCooldown(t *testing.T) {
	store := cooldown.NewMemoryStore()
	rules := DefaultRules()
	ev := NewEvaluator(rules, nil, store)
	ctx := context.Background()

	in := input(goldenCross())
	first, err := ev.Evaluate(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, first)

	in.Now = in.Now.Add(time.Hour)
	second, err := ev.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, second, "inside cooldown window")

	in.Now = in.Now.Add(rules.Cooldown)
	third, err := ev.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.NotNil(t, third, "window elapsed")
}

func TestEvaluateRejectedCandidateKeepsCooldown(t *testing.T) {
	store := cooldown.NewMemoryStore()
	ev := NewEvaluator(DefaultRules(), nil, store)
	ctx := context.Background()

	pair := goldenCross()
	pair.Current.ATR = 0
	c, err := ev.Evaluate(ctx, input(pair))
	require.NoError(t, err)
	assert.Nil(t, c)

	_, found, err := store.Last(ctx, cooldown.Key{Symbol: "BTCUSDT", Direction: string(Long)})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEvaluateReleaseReturnsCooldown(t *testing.T) {
	ev := NewEvaluator(DefaultRules(), nil, cooldown.NewMemoryStore())
	ctx := context.Background()

	in := input(goldenCross())
	first, err := ev.Evaluate(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NoError(t, ev.Release(ctx, *first))

	in.Now = in.Now.Add(time.Minute)
	again, err := ev.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestEvaluatePerTimeframeRules(t *testing.T) {
	strict := DefaultRules()
	strict.VolumeMultiplier = 3
	ev := NewEvaluator(DefaultRules(), map[string]Rules{"15m": strict}, cooldown.NewMemoryStore())

	in := input(goldenCross())
	in.Timeframe = "15m"
	c, err := ev.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, c)

	in.Timeframe = "4h"
	c, err = ev.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

// 300 hourly candles drifting down with a zigzag, then a 5% breakout bar on
// double volume: the fast EMA crosses the slow one on the last bar only.
func breakoutCandles() []market.Candle {
	const n = 300
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, 0, n)
	prevClose := 60000.0
	for i := 0; i < n; i++ {
		zig := 20.0
		if i%2 == 1 {
			zig = -20
		}
		close := 60000 - 10*float64(i) + zig
		volume := 100.0
		if i == n-1 {
			close = prevClose * 1.05
			volume = 200
		}
		open := prevClose
		out = append(out, market.Candle{
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   open,
			High:   math.Max(open, close) + 5,
			Low:    math.Min(open, close) - 5,
			Close:  close,
			Volume: volume,
		})
		prevClose = close
	}
	return out
}

func TestEndToEndGoldenCross(t *testing.T) {
	candles := breakoutCandles()
	require.NoError(t, market.Validate(candles))

	rules := DefaultRules()
	pair, err := indicators.Compute(market.ToSeries(candles), rules.Indicators)
	require.NoError(t, err)

	require.Less(t, pair.Previous.FastMA, pair.Previous.SlowMA)
	require.Greater(t, pair.Current.FastMA, pair.Current.SlowMA)
	require.InDelta(t, 2.0, pair.Current.VolumeRatio, 1e-9)
	require.Greater(t, pair.Current.HVP, rules.HVPThreshold)

	last := candles[len(candles)-1]
	ev := NewEvaluator(rules, nil, cooldown.NewMemoryStore())
	c, err := ev.Evaluate(context.Background(), Input{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		BarTime:   last.Time,
		Snapshots: pair,
		Now:       last.Time.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, Long, c.Direction)
	assert.GreaterOrEqual(t, c.Confidence, 85.0)
	assert.Contains(t, []Grade{GradeA, GradeAPlus}, c.Grade)
	assert.Less(t, c.StopLoss, c.EntryPrice)
	assert.Greater(t, c.TakeProfit, c.EntryPrice)

	_, reason := Assess(Short, rules, Input{Symbol: "BTCUSDT", Timeframe: "1h", Snapshots: pair})
	assert.NotEmpty(t, reason, "no short on the same bar")
}
