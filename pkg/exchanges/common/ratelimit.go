package common

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"signal-core/pkg/logger"
)

// WeightLimiter paces requests against a per-window request weight budget
// and tracks the usage the venue reports back.
type WeightLimiter struct {
	lim   *rate.Limiter
	limit int
	used  atomic.Int64
}

// NewWeightLimiter allows limit weight per window (e.g. 2400 per minute for
// USDT-M futures) with bursts up to a tenth of the budget.
func NewWeightLimiter(limit int, window time.Duration) *WeightLimiter {
	burst := limit / 10
	if burst < 1 {
		burst = 1
	}
	return &WeightLimiter{
		lim:   rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), burst),
		limit: limit,
	}
}

// Wait blocks until weight may be spent or ctx is done.
func (wl *WeightLimiter) Wait(ctx context.Context, weight int) error {
	return wl.lim.WaitN(ctx, weight)
}

// Observe records the used weight from the X-MBX-USED-WEIGHT-1M header.
func (wl *WeightLimiter) Observe(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}
	wl.used.Store(int64(weight))

	pct := float64(weight) / float64(wl.limit) * 100
	fields := []zap.Field{zap.Int("used", weight), zap.Int("limit", wl.limit), zap.Float64("pct", pct)}
	if pct >= 95 {
		logger.Warn("rate limit critical, approaching ban threshold", fields...)
	} else if pct >= 80 {
		logger.Warn("rate limit warning", fields...)
	}
}

// Usage returns the last reported weight.
func (wl *WeightLimiter) Usage() (used int, limit int, percentage float64) {
	u := int(wl.used.Load())
	return u, wl.limit, float64(u) / float64(wl.limit) * 100
}
