package sizing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/instruments"
	"signal-core/pkg/errs"
)

func btcRules() instruments.Rules {
	return instruments.Rules{
		Symbol:         "BTCUSDT",
		MinOrderQty:    0.001,
		MaxOrderQty:    1000,
		QtyStep:        0.001,
		MinPrice:       100,
		MaxPrice:       1000000,
		TickSize:       0.1,
		MinNotional:    5,
		MaxLeverage:    125,
		TradingEnabled: true,
	}
}

func rejection(t *testing.T, err error) *Rejection {
	t.Helper()
	var rej *Rejection
	require.True(t, errors.As(err, &rej), "expected *Rejection, got %v", err)
	return rej
}

func TestNotionalSizing(t *testing.T) {
	s := New(0)
	res, err := s.Size(Request{Mode: ModeNotional, Amount: 100, Leverage: 5, Price: 50000}, btcRules())
	require.NoError(t, err)
	assert.Equal(t, 0.01, res.RawQuantity)
	assert.Equal(t, 0.01, res.Quantity)
	assert.Equal(t, 500.0, res.Notional)
	assert.Equal(t, 100.0, res.Margin)
}

func TestRoundingOnlyDecreases(t *testing.T) {
	s := New(0)
	cases := []struct {
		amount float64
		lev    int
		price  float64
	}{
		{123.45, 3, 27123.7},
		{77.7, 10, 1834.21},
		{99, 1, 0.5123},
		{250, 20, 64001.3},
	}
	for _, c := range cases {
		res, err := s.Size(Request{Mode: ModeNotional, Amount: c.amount, Leverage: c.lev, Price: c.price}, btcRules())
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Quantity, res.RawQuantity)
		assert.Less(t, res.RawQuantity-res.Quantity, 0.001)
	}
}

func TestRiskPercentSizing(t *testing.T) {
	s := New(0)
	rules := btcRules()
	res, err := s.Size(Request{Mode: ModeRiskPercent, RiskBudget: 50, Leverage: 2, Price: 100, StopLoss: 95}, rules)
	require.NoError(t, err)
	assert.Equal(t, 20.0, res.Quantity)

	_, err = s.Size(Request{Mode: ModeRiskPercent, RiskBudget: 50, Leverage: 2, Price: 100}, rules)
	assert.Equal(t, CodeInvalidRequest, rejection(t, err).Code())
}

func TestExplicitQuantity(t *testing.T) {
	s := New(0)
	res, err := s.Size(Request{Mode: ModeExplicitQty, Quantity: 0.0129, Leverage: 3, Price: 50000}, btcRules())
	require.NoError(t, err)
	assert.Equal(t, 0.012, res.Quantity)
}

func TestMinNotionalRemediationPasses(t *testing.T) {
	s := New(0)
	rules := btcRules()
	rules.MinNotional = 100

	for _, price := range []float64{50000, 30001.7, 27123.9, 64999.99} {
		_, err := s.Size(Request{Mode: ModeNotional, Amount: 20, Leverage: 5, Price: price}, rules)
		rej := rejection(t, err)
		assert.Equal(t, CodeBelowMinNotional, rej.Code())
		assert.NotEmpty(t, rej.Hint())
		require.Greater(t, rej.SuggestedQty, 0.0)

		res, err := s.Size(Request{Mode: ModeExplicitQty, Quantity: rej.SuggestedQty, Leverage: 5, Price: price}, rules)
		require.NoError(t, err, "price %v suggested %v", price, rej.SuggestedQty)
		assert.Equal(t, rej.SuggestedQty, res.Quantity)
	}
}

func TestMinNotionalSuggestionIsExact(t *testing.T) {
	s := New(0)
	rules := btcRules()
	rules.MinNotional = 100
	_, err := s.Size(Request{Mode: ModeNotional, Amount: 20, Leverage: 5, Price: 50000}, rules)
	rej := rejection(t, err)
	assert.Equal(t, 0.01, rej.SuggestedQty)
	assert.Equal(t, 100.0, rej.SuggestedAmount)
}

func TestPlatformFloor(t *testing.T) {
	s := New(0)
	rules := btcRules()
	rules.QtyStep = 0.00001
	rules.MinOrderQty = 0.00001
	rules.MinNotional = 1

	_, err := s.Size(Request{Mode: ModeExplicitQty, Quantity: 0.00005, Leverage: 1, Price: 50000}, rules)
	rej := rejection(t, err)
	assert.Equal(t, CodeBelowPlatformFloor, rej.Code())
	assert.Equal(t, 0.0001, rej.SuggestedQty)

	_, err = s.Size(Request{Mode: ModeExplicitQty, Quantity: rej.SuggestedQty, Leverage: 1, Price: 50000}, rules)
	assert.NoError(t, err)
}

func TestRejections(t *testing.T) {
	s := New(0)
	disabled := btcRules()
	disabled.TradingEnabled = false

	cases := []struct {
		name  string
		req   Request
		rules instruments.Rules
		code  string
	}{
		{"below min qty", Request{Mode: ModeExplicitQty, Quantity: 0.0004, Leverage: 1, Price: 50000}, btcRules(), CodeBelowMinQty},
		{"above max qty", Request{Mode: ModeExplicitQty, Quantity: 1500, Leverage: 1, Price: 50000}, btcRules(), CodeAboveMaxQty},
		{"leverage", Request{Mode: ModeNotional, Amount: 100, Leverage: 150, Price: 50000}, btcRules(), CodeLeverageExceeded},
		{"disabled", Request{Mode: ModeNotional, Amount: 100, Leverage: 5, Price: 50000}, disabled, CodeTradingDisabled},
		{"unknown mode", Request{Mode: "margin", Amount: 100, Leverage: 5, Price: 50000}, btcRules(), CodeInvalidRequest},
		{"zero price", Request{Mode: ModeNotional, Amount: 100, Leverage: 5}, btcRules(), CodeInvalidRequest},
		{"zero leverage", Request{Mode: ModeNotional, Amount: 100, Price: 50000}, btcRules(), CodeInvalidRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := s.Size(c.req, c.rules)
			rej := rejection(t, err)
			assert.Equal(t, c.code, rej.Code())
			assert.NotEmpty(t, rej.Hint())
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
			assert.Equal(t, c.code, errs.CodeOf(err))
		})
	}
}

func TestRoundPrice(t *testing.T) {
	rules := btcRules()
	p, err := RoundPrice(50123.47, rules)
	require.NoError(t, err)
	assert.Equal(t, 50123.5, p)

	_, err = RoundPrice(50, rules)
	assert.Equal(t, CodePriceOutOfRange, rejection(t, err).Code())
}
