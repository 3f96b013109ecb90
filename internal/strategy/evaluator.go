package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"signal-core/internal/cooldown"
	"signal-core/internal/indicators"
	"signal-core/internal/market"
	"signal-core/pkg/logger"
)

// Input is one (symbol, timeframe) evaluation at the latest closed bar.
type Input struct {
	Symbol    string
	Timeframe string
	BarTime   time.Time
	Snapshots indicators.Pair
	Now       time.Time
}

// Evaluator applies per-timeframe rules and gates accepted candidates
// through the cooldown store.
type Evaluator struct {
	defaults    Rules
	byTimeframe map[string]Rules
	cooldowns   cooldown.Store
	log         *zap.Logger
}

// NewEvaluator builds an evaluator. byTimeframe may be nil.
func NewEvaluator(defaults Rules, byTimeframe map[string]Rules, store cooldown.Store) *Evaluator {
	if store == nil {
		store = cooldown.NewMemoryStore()
	}
	return &Evaluator{
		defaults:    defaults,
		byTimeframe: byTimeframe,
		cooldowns:   store,
		log:         logger.Named("strategy"),
	}
}

// Rules returns the rule set used for timeframe.
func (e *Evaluator) Rules(timeframe string) Rules {
	if r, ok := e.byTimeframe[timeframe]; ok {
		return r
	}
	return e.defaults
}

// Evaluate returns at most one candidate. When both directions qualify the
// first one in the configured priority order that clears its cooldown wins.
// The cooldown is consumed only by the returned candidate; Release hands it
// back. A nil candidate with a nil error means no signal on this bar.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*Candidate, error) {
	rules := e.Rules(in.Timeframe)
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	var eligible []Candidate
	for _, dir := range rules.priority() {
		c, reason := Assess(dir, rules, in)
		if reason != "" {
			e.log.Debug("direction rejected",
				zap.String("symbol", in.Symbol),
				zap.String("timeframe", in.Timeframe),
				zap.String("direction", string(dir)),
				zap.String("reason", reason),
			)
			continue
		}
		eligible = append(eligible, c)
	}

	for _, c := range rankByPriority(eligible, rules.priority()) {
		key := cooldown.Key{Symbol: c.Symbol, Direction: string(c.Direction)}
		ok, err := e.cooldowns.Acquire(ctx, key, in.Now, rules.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("cooldown %s: %w", key, err)
		}
		if !ok {
			e.log.Debug("direction in cooldown",
				zap.String("symbol", c.Symbol),
				zap.String("direction", string(c.Direction)),
			)
			continue
		}
		return &c, nil
	}
	return nil, nil
}

// Release returns the cooldown taken for c by Evaluate, for a candidate
// that could not be recorded.
func (e *Evaluator) Release(ctx context.Context, c Candidate) error {
	key := cooldown.Key{Symbol: c.Symbol, Direction: string(c.Direction)}
	if err := e.cooldowns.Release(ctx, key, c.CreatedAt); err != nil {
		return fmt.Errorf("release cooldown %s: %w", key, err)
	}
	return nil
}

// Assess checks one direction against rules without touching the cooldown.
// It returns the candidate, or a non-empty rejection reason.
func Assess(dir Direction, rules Rules, in Input) (Candidate, string) {
	cur, prev := in.Snapshots.Current, in.Snapshots.Previous

	primary := map[string]bool{
		CondCrossover:  crossed(dir, prev.FastMA, prev.SlowMA, cur.FastMA, cur.SlowMA),
		CondVolume:     cur.VolumeRatio >= rules.VolumeMultiplier,
		CondVolatility: volatilityRegime(rules, cur),
	}
	optional := map[string]bool{
		ConfMomentum:      momentum(dir, rules.Momentum, prev, cur),
		ConfTrendStrength: trendStrength(dir, rules.TrendStrength, cur),
	}

	for _, name := range []string{CondCrossover, CondVolume, CondVolatility} {
		if !primary[name] {
			return Candidate{}, "primary condition failed: " + name
		}
	}
	if rules.Momentum.Enabled && !optional[ConfMomentum] {
		return Candidate{}, "filter failed: " + ConfMomentum
	}
	if rules.TrendStrength.Enabled && !optional[ConfTrendStrength] {
		return Candidate{}, "filter failed: " + ConfTrendStrength
	}

	entry := cur.Close
	risk := cur.ATR * rules.StopLossATR
	reward := cur.ATR * rules.TakeProfitATR
	if risk <= 0 || math.IsNaN(risk) {
		return Candidate{}, "zero stop distance"
	}
	sl, tp := entry-risk, entry+reward
	if dir == Short {
		sl, tp = entry+risk, entry-reward
	}
	if sl <= 0 || tp <= 0 {
		return Candidate{}, "protective price not positive"
	}
	rr := reward / risk
	if rr+rrEpsilon < rules.MinRiskReward {
		return Candidate{}, fmt.Sprintf("risk/reward %.2f below %.2f", rr, rules.MinRiskReward)
	}

	confirmations := 0
	for _, ok := range optional {
		if ok {
			confirmations++
		}
	}
	conf := rules.Scoring.Confidence(ScoreInput{
		VolumeRatio:   cur.VolumeRatio,
		HVP:           cur.HVP,
		HVPThreshold:  rules.HVPThreshold,
		Confirmations: confirmations,
	})

	c := Candidate{
		Symbol:     in.Symbol,
		Timeframe:  in.Timeframe,
		Direction:  dir,
		BarTime:    in.BarTime,
		EntryPrice: entry,
		StopLoss:   sl,
		TakeProfit: tp,
		RiskReward: rr,
		Confidence: conf,
		Grade:      GradeFor(rules.Grades, conf, rr),
		Primary:    primary,
		Optional:   optional,
		CreatedAt:  in.Now,
		ExpiresAt:  in.Now,
	}
	if tf, err := market.TimeframeDuration(in.Timeframe); err == nil {
		c.ExpiresAt = in.BarTime.Add(time.Duration(rules.SignalTTLBars) * tf)
	}
	return c, ""
}

// crossed reports a strict change of ordering between the two bars.
func crossed(dir Direction, prevFast, prevSlow, curFast, curSlow float64) bool {
	if dir == Short {
		return prevFast >= prevSlow && curFast < curSlow
	}
	return prevFast <= prevSlow && curFast > curSlow
}

func volatilityRegime(rules Rules, cur indicators.Snapshot) bool {
	above := cur.HVP > rules.HVPThreshold
	overMA := cur.HVP > cur.HVPMA
	switch rules.HVPMode {
	case HVPModeThreshold:
		return above
	case HVPModeMA:
		return overMA
	default:
		return above || overMA
	}
}

// momentum: %K crosses %D in dir, starting outside the opposite extreme.
func momentum(dir Direction, f MomentumFilter, prev, cur indicators.Snapshot) bool {
	if dir == Short {
		return prev.StochK >= prev.StochD && cur.StochK < cur.StochD && prev.StochK > f.Oversold
	}
	return prev.StochK <= prev.StochD && cur.StochK > cur.StochD && prev.StochK < f.Overbought
}

func trendStrength(dir Direction, f TrendFilter, cur indicators.Snapshot) bool {
	if cur.ADX <= f.ADXThreshold {
		return false
	}
	if dir == Short {
		return cur.MinusDI > cur.PlusDI
	}
	return cur.PlusDI > cur.MinusDI
}

// rankByPriority orders candidates by the position of their direction in
// priority. Directions not listed sort last.
func rankByPriority(cands []Candidate, priority []Direction) []Candidate {
	rank := func(d Direction) int {
		for i, p := range priority {
			if p == d {
				return i
			}
		}
		return len(priority)
	}
	out := append([]Candidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Direction) < rank(out[j].Direction)
	})
	return out
}
