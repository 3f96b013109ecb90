package strategy

import (
	"time"

	"signal-core/internal/indicators"
)

// HVP regime modes.
const (
	HVPModeThreshold = "threshold"
	HVPModeMA        = "ma"
	HVPModeEither    = "either"
)

// MomentumFilter requires a stochastic %K/%D cross in the signal direction.
type MomentumFilter struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Overbought float64 `yaml:"overbought" json:"overbought" validate:"gt=0,lte=100"`
	Oversold   float64 `yaml:"oversold" json:"oversold" validate:"gte=0,ltfield=Overbought"`
}

// TrendFilter requires ADX above a threshold with the matching DI on top.
type TrendFilter struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ADXThreshold float64 `yaml:"adx_threshold" json:"adx_threshold" validate:"gte=0,lte=100"`
}

// Scoring declares the confidence formula.
type Scoring struct {
	Base                    float64 `yaml:"base" json:"base" validate:"gte=0,lte=100"`
	Min                     float64 `yaml:"min" json:"min" validate:"gte=0,lte=100"`
	Max                     float64 `yaml:"max" json:"max" validate:"gtefield=Min,lte=100"`
	VolumeBonusPerRatio     float64 `yaml:"volume_bonus_per_ratio" json:"volume_bonus_per_ratio" validate:"gte=0"`
	VolumeBonusMax          float64 `yaml:"volume_bonus_max" json:"volume_bonus_max" validate:"gte=0"`
	VolatilityBonusPerPoint float64 `yaml:"volatility_bonus_per_point" json:"volatility_bonus_per_point" validate:"gte=0"`
	VolatilityBonusMax      float64 `yaml:"volatility_bonus_max" json:"volatility_bonus_max" validate:"gte=0"`
	ConfirmationBonus       float64 `yaml:"confirmation_bonus" json:"confirmation_bonus" validate:"gte=0"`
}

// GradeTier is the minimum (confidence, risk/reward) for a grade.
type GradeTier struct {
	Grade         Grade   `yaml:"grade" json:"grade" validate:"required"`
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
	MinRiskReward float64 `yaml:"min_risk_reward" json:"min_risk_reward"`
}

// Rules is the full parameter set for one timeframe.
type Rules struct {
	Indicators        indicators.Params `yaml:"indicators" json:"indicators"`
	VolumeMultiplier  float64           `yaml:"volume_multiplier" json:"volume_multiplier" validate:"gt=0"`
	HVPThreshold      float64           `yaml:"hvp_threshold" json:"hvp_threshold" validate:"gte=0,lte=100"`
	HVPMode           string            `yaml:"hvp_mode" json:"hvp_mode" validate:"oneof=threshold ma either"`
	Momentum          MomentumFilter    `yaml:"momentum" json:"momentum"`
	TrendStrength     TrendFilter       `yaml:"trend_strength" json:"trend_strength"`
	Scoring           Scoring           `yaml:"scoring" json:"scoring"`
	Grades            []GradeTier       `yaml:"grades" json:"grades" validate:"dive"`
	StopLossATR       float64           `yaml:"stop_loss_atr" json:"stop_loss_atr" validate:"gt=0"`
	TakeProfitATR     float64           `yaml:"take_profit_atr" json:"take_profit_atr" validate:"gt=0"`
	MinRiskReward     float64           `yaml:"min_risk_reward" json:"min_risk_reward" validate:"gte=0"`
	Cooldown          time.Duration     `yaml:"cooldown" json:"cooldown" validate:"gte=0"`
	SignalTTLBars     int               `yaml:"signal_ttl_bars" json:"signal_ttl_bars" validate:"gt=0"`
	DirectionPriority []Direction       `yaml:"direction_priority" json:"direction_priority" validate:"dive,oneof=LONG SHORT"`
}

// DefaultRules returns the built-in rule set. Thresholds assume Wilder ADX.
func DefaultRules() Rules {
	return Rules{
		Indicators:       indicators.DefaultParams(),
		VolumeMultiplier: 1.5,
		HVPThreshold:     50,
		HVPMode:          HVPModeEither,
		Momentum:         MomentumFilter{Overbought: 80, Oversold: 20},
		TrendStrength:    TrendFilter{ADXThreshold: 25},
		Scoring: Scoring{
			Base:                    70,
			Min:                     70,
			Max:                     95,
			VolumeBonusPerRatio:     10,
			VolumeBonusMax:          10,
			VolatilityBonusPerPoint: 0.5,
			VolatilityBonusMax:      10,
			ConfirmationBonus:       5,
		},
		Grades:            DefaultGrades(),
		StopLossATR:       1.5,
		TakeProfitATR:     3.0,
		MinRiskReward:     1.5,
		Cooldown:          4 * time.Hour,
		SignalTTLBars:     4,
		DirectionPriority: []Direction{Long, Short},
	}
}

// DefaultGrades returns the grade tiers, best first. Anything below is C.
func DefaultGrades() []GradeTier {
	return []GradeTier{
		{Grade: GradeAPlus, MinConfidence: 90, MinRiskReward: 2.5},
		{Grade: GradeA, MinConfidence: 85, MinRiskReward: 2.0},
		{Grade: GradeB, MinConfidence: 75, MinRiskReward: 1.5},
	}
}

func (r Rules) priority() []Direction {
	if len(r.DirectionPriority) == 0 {
		return []Direction{Long, Short}
	}
	seen := map[Direction]bool{}
	out := make([]Direction, 0, 2)
	for _, d := range r.DirectionPriority {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	// directions left out of the list still evaluate, after the listed ones
	for _, d := range []Direction{Long, Short} {
		if !seen[d] {
			out = append(out, d)
		}
	}
	return out
}
