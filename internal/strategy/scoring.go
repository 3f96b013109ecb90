package strategy

import "math"

// ScoreInput carries the measured strengths that earn bonuses.
type ScoreInput struct {
	VolumeRatio   float64
	HVP           float64
	HVPThreshold  float64
	Confirmations int
}

// Confidence = base + volume bonus + volatility bonus + confirmation bonuses,
// clamped to [Min, Max]. Each bonus is bounded on its own.
func (s Scoring) Confidence(in ScoreInput) float64 {
	conf := s.Base
	conf += clamp((in.VolumeRatio-1)*s.VolumeBonusPerRatio, 0, s.VolumeBonusMax)
	conf += clamp((in.HVP-in.HVPThreshold)*s.VolatilityBonusPerPoint, 0, s.VolatilityBonusMax)
	conf += float64(in.Confirmations) * s.ConfirmationBonus
	return clamp(conf, s.Min, s.Max)
}

const rrEpsilon = 1e-9

// GradeFor returns the first tier whose minimums are both met, else C.
func GradeFor(tiers []GradeTier, confidence, riskReward float64) Grade {
	for _, t := range tiers {
		if confidence >= t.MinConfidence && riskReward+rrEpsilon >= t.MinRiskReward {
			return t.Grade
		}
	}
	return GradeC
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
