package order

import "signal-core/pkg/exchanges/common"

// RetryStep mutates a rejected request into the next attempt.
type RetryStep struct {
	Name string
	// On lists the rejection codes that trigger the step; empty matches any
	// exchange rejection.
	On     []string
	Mutate func(common.OrderRequest) common.OrderRequest
}

// RetryPolicy is a finite table of retry steps, applied in order. Step i runs
// after attempt i+1 was rejected.
type RetryPolicy struct {
	Steps []RetryStep
}

// DefaultRetryPolicy retries a position-state rejection once with reduce-only
// toggled, then once more as a plain market order.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Steps: []RetryStep{
		{
			Name:   "toggle_reduce_only",
			On:     []string{CodeReduceOnlyRejected, CodePositionSideMismatch},
			Mutate: toggleReduceOnly,
		},
		{
			Name:   "plain_market",
			Mutate: plainMarket,
		},
	}}
}

// Next returns the request for the attempt after `done` rejected attempts.
// Only exchange rejections are retried; transport failures are ambiguous.
func (p RetryPolicy) Next(done int, code string, req common.OrderRequest) (common.OrderRequest, string, bool) {
	if code == CodeExchangeUnavailable || done < 1 || done > len(p.Steps) {
		return req, "", false
	}
	step := p.Steps[done-1]
	if len(step.On) > 0 && !containsCode(step.On, code) {
		return req, "", false
	}
	return step.Mutate(req), step.Name, true
}

// MaxAttempts is the primary-order attempt ceiling.
func (p RetryPolicy) MaxAttempts() int {
	return len(p.Steps) + 1
}

func toggleReduceOnly(req common.OrderRequest) common.OrderRequest {
	req.ReduceOnly = !req.ReduceOnly
	return req
}

func plainMarket(req common.OrderRequest) common.OrderRequest {
	req.Type = common.OrderTypeMarket
	req.Price = 0
	req.TimeInForce = ""
	req.ReduceOnly = false
	req.PositionSide = ""
	return req
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
