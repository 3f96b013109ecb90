package strategy

import "time"

// Direction is the side a signal proposes.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Side maps a direction to the order side that opens it.
func (d Direction) Side() string {
	if d == Short {
		return "SELL"
	}
	return "BUY"
}

// Grade is the quality tier of an accepted signal.
type Grade string

const (
	GradeAPlus Grade = "A+"
	GradeA     Grade = "A"
	GradeB     Grade = "B"
	GradeC     Grade = "C"
)

// Condition names recorded on every candidate.
const (
	CondCrossover     = "trend_crossover"
	CondVolume        = "volume_confirmation"
	CondVolatility    = "volatility_regime"
	ConfMomentum      = "momentum"
	ConfTrendStrength = "trend_strength"
)

// Candidate is an accepted signal for one bar.
type Candidate struct {
	Symbol     string          `json:"symbol"`
	Timeframe  string          `json:"timeframe"`
	Direction  Direction       `json:"direction"`
	BarTime    time.Time       `json:"bar_time"`
	EntryPrice float64         `json:"entry_price"`
	StopLoss   float64         `json:"stop_loss"`
	TakeProfit float64         `json:"take_profit"`
	RiskReward float64         `json:"risk_reward"`
	Confidence float64         `json:"confidence"`
	Grade      Grade           `json:"grade"`
	Primary    map[string]bool `json:"primary_conditions"`
	Optional   map[string]bool `json:"optional_confirmations"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}
