package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"signal-core/internal/sizing"
	"signal-core/internal/strategy"
)

// Pipeline is the scan and execution configuration loaded from YAML.
type Pipeline struct {
	Symbols    []string `yaml:"symbols" validate:"required,min=1,dive,required,uppercase"`
	Timeframes []string `yaml:"timeframes" validate:"required,min=1,dive,oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d"`
	Allow      []string `yaml:"allow" validate:"dive,uppercase"`
	Deny       []string `yaml:"deny" validate:"dive,uppercase"`

	Scan      ScanOptions    `yaml:"scan"`
	Rules     strategy.Rules `yaml:"rules"`
	Risk      Risk           `yaml:"risk"`
	Execution Execution      `yaml:"execution"`

	// TimeframeRules holds the fully resolved rule set for every timeframe
	// that has an override under timeframe_rules.
	TimeframeRules map[string]strategy.Rules `yaml:"-" validate:"dive"`

	Overrides map[string]yaml.Node `yaml:"timeframe_rules" validate:"-"`
}

// ScanOptions bound the scan fan-out.
type ScanOptions struct {
	BatchSize         int           `yaml:"batch_size" validate:"gt=0"`
	Concurrency       int           `yaml:"concurrency" validate:"gt=0"`
	BatchDelay        time.Duration `yaml:"batch_delay" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int           `yaml:"burst" validate:"gt=0"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	// CandleLimit of 0 fetches exactly the bars the indicators need.
	CandleLimit int `yaml:"candle_limit" validate:"gte=0,lte=1500"`
}

// Risk configures sizing for auto-executed signals.
type Risk struct {
	Mode          sizing.Mode `yaml:"mode" validate:"oneof=notional risk_percent explicit_qty"`
	Amount        float64     `yaml:"amount" validate:"required_if=Mode notional,gte=0"`
	RiskBudget    float64     `yaml:"risk_budget" validate:"required_if=Mode risk_percent,gte=0"`
	Quantity      float64     `yaml:"quantity" validate:"required_if=Mode explicit_qty,gte=0"`
	Leverage      int         `yaml:"leverage" validate:"gt=0,ltefield=MaxLeverage"`
	MaxLeverage   int         `yaml:"max_leverage" validate:"gt=0"`
	PlatformFloor float64     `yaml:"platform_floor" validate:"gte=0"`
}

// Execution configures the order executor.
type Execution struct {
	IdempotencyWindow time.Duration `yaml:"idempotency_window" validate:"gt=0"`
	InstrumentTTL     time.Duration `yaml:"instrument_ttl" validate:"gt=0"`
	Workers           int           `yaml:"workers" validate:"gt=0"`
	QueueSize         int           `yaml:"queue_size" validate:"gt=0"`
	OrderTimeout      time.Duration `yaml:"order_timeout" validate:"gt=0"`
}

// DefaultPipeline returns the built-in configuration.
func DefaultPipeline() *Pipeline {
	return &Pipeline{
		Symbols:    []string{"BTCUSDT", "ETHUSDT"},
		Timeframes: []string{"1h", "4h"},
		Scan: ScanOptions{
			BatchSize:         10,
			Concurrency:       4,
			BatchDelay:        500 * time.Millisecond,
			RequestsPerSecond: 10,
			Burst:             5,
			FetchTimeout:      10 * time.Second,
		},
		Rules: strategy.DefaultRules(),
		Risk: Risk{
			Mode:          sizing.ModeNotional,
			Amount:        100,
			Leverage:      5,
			MaxLeverage:   20,
			PlatformFloor: sizing.DefaultPlatformFloor,
		},
		Execution: Execution{
			IdempotencyWindow: 10 * time.Minute,
			InstrumentTTL:     5 * time.Minute,
			Workers:           2,
			QueueSize:         64,
			OrderTimeout:      15 * time.Second,
		},
		TimeframeRules: map[string]strategy.Rules{},
	}
}

// LoadPipeline reads path over the defaults. A missing file yields the
// defaults and found=false.
func LoadPipeline(path string) (p *Pipeline, found bool, err error) {
	p = DefaultPipeline()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, false, p.Validate()
	}
	if err != nil {
		return nil, false, fmt.Errorf("read pipeline config: %w", err)
	}
	p, err = ParsePipeline(data)
	return p, true, err
}

// ParsePipeline decodes YAML over the defaults and validates the result.
func ParsePipeline(data []byte) (*Pipeline, error) {
	p := DefaultPipeline()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse pipeline config: %w", err)
	}
	for _, list := range [][]string{p.Symbols, p.Allow, p.Deny} {
		for i, s := range list {
			list[i] = strings.ToUpper(strings.TrimSpace(s))
		}
	}
	for tf, node := range p.Overrides {
		r := cloneRules(p.Rules)
		if err := node.Decode(&r); err != nil {
			return nil, fmt.Errorf("timeframe_rules.%s: %w", tf, err)
		}
		p.TimeframeRules[tf] = r
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the struct tags and cross-field constraints.
func (p *Pipeline) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	for tf := range p.TimeframeRules {
		if !contains(p.Timeframes, tf) {
			return fmt.Errorf("invalid pipeline config: timeframe_rules.%s is not a configured timeframe", tf)
		}
	}
	if len(p.ActiveSymbols()) == 0 {
		return errors.New("invalid pipeline config: allow/deny lists leave no symbols")
	}
	return nil
}

// ActiveSymbols applies the allow and deny lists to Symbols.
func (p *Pipeline) ActiveSymbols() []string {
	out := make([]string, 0, len(p.Symbols))
	for _, s := range p.Symbols {
		if len(p.Allow) > 0 && !contains(p.Allow, s) {
			continue
		}
		if contains(p.Deny, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func cloneRules(r strategy.Rules) strategy.Rules {
	r.Grades = append([]strategy.GradeTier(nil), r.Grades...)
	r.DirectionPriority = append([]strategy.Direction(nil), r.DirectionPriority...)
	return r
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
