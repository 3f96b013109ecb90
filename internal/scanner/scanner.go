// Package scanner runs the symbol x timeframe scan: fetch candles, compute
// indicators, evaluate rules and record accepted signals.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"signal-core/internal/events"
	"signal-core/internal/indicators"
	"signal-core/internal/market"
	"signal-core/internal/monitor"
	"signal-core/internal/strategy"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/errs"
	"signal-core/pkg/logger"
)

// Skip reason codes.
const (
	CodeFetchFailed      = "FETCH_FAILED"
	CodeFetchTimeout     = "FETCH_TIMEOUT"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeMalformedCandle  = "MALFORMED_CANDLE"
	CodeNotReady         = "INDICATORS_NOT_READY"
	CodePanic            = "PANIC"
)

// SignalStore is the part of the database the scanner writes.
type SignalStore interface {
	InsertSignal(ctx context.Context, s db.Signal) error
	ExpireSignals(ctx context.Context, now time.Time) (int64, error)
}

// Request narrows a scan. Empty fields use the configured lists.
type Request struct {
	Symbols    []string `json:"symbols"`
	Timeframes []string `json:"timeframes"`
}

// Skip is a task that produced no evaluation.
type Skip struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Kind      errs.Kind `json:"kind"`
	Code      string    `json:"code"`
	Reason    string    `json:"reason"`
}

// Report summarises one scan.
type Report struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Tasks      int         `json:"tasks"`
	Evaluated  int         `json:"evaluated"`
	Accepted   []db.Signal `json:"accepted"`
	Duplicates int         `json:"duplicates"`
	Expired    int64       `json:"expired"`
	Skipped    []Skip      `json:"skipped"`
	Aborted    string      `json:"aborted,omitempty"`
}

type task struct {
	symbol    string
	timeframe string
}

// Scanner owns one scan configuration.
type Scanner struct {
	Source     market.Source
	Evaluator  *strategy.Evaluator
	Store      SignalStore
	Bus        *events.Bus
	Metrics    *monitor.Metrics
	Symbols    []string
	Timeframes []string
	Options    config.ScanOptions
	Now        func() time.Time

	limiter *rate.Limiter
	log     *zap.Logger
}

// New builds a scanner over the given symbols and timeframes.
func New(src market.Source, eval *strategy.Evaluator, store SignalStore, symbols, timeframes []string, opts config.ScanOptions) *Scanner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	return &Scanner{
		Source:     src,
		Evaluator:  eval,
		Store:      store,
		Symbols:    symbols,
		Timeframes: timeframes,
		Options:    opts,
		Now:        func() time.Time { return time.Now().UTC() },
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		log:        logger.Named("scanner"),
	}
}

// Scan evaluates every (symbol, timeframe) pair once. Failures local to a
// pair are recorded in the report and skipped. A signal store or cooldown
// store failure aborts the scan and is returned with the partial report.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Report, error) {
	symbols, timeframes := s.Symbols, s.Timeframes
	if len(req.Symbols) > 0 {
		symbols = req.Symbols
	}
	if len(req.Timeframes) > 0 {
		timeframes = req.Timeframes
	}

	rep := &Report{ID: uuid.NewString(), StartedAt: s.Now()}
	log := s.log.With(zap.String("scan_id", rep.ID))

	expired, err := s.Store.ExpireSignals(ctx, rep.StartedAt)
	if err != nil {
		return s.abort(log, rep, errs.Wrap(errs.KindSystem, "STORE_UNAVAILABLE", err, "expire signals"))
	}
	rep.Expired = expired
	if expired > 0 {
		s.Bus.Publish(events.EventSignalsExpired, expired)
	}

	tasks := make([]task, 0, len(symbols)*len(timeframes))
	for _, sym := range symbols {
		for _, tf := range timeframes {
			tasks = append(tasks, task{symbol: sym, timeframe: tf})
		}
	}
	rep.Tasks = len(tasks)

	var mu sync.Mutex
	for start := 0; start < len(tasks); start += s.Options.BatchSize {
		if start > 0 && s.Options.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return s.abort(log, rep, ctx.Err())
			case <-time.After(s.Options.BatchDelay):
			}
		}
		end := min(start+s.Options.BatchSize, len(tasks))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.Options.Concurrency)
		for _, t := range tasks[start:end] {
			g.Go(func() error {
				return s.run(gctx, t, rep, &mu)
			})
		}
		if err := g.Wait(); err != nil {
			return s.abort(log, rep, err)
		}
	}

	rep.FinishedAt = s.Now()
	elapsed := rep.FinishedAt.Sub(rep.StartedAt)
	fields := []zap.Field{
		zap.Int("tasks", rep.Tasks),
		zap.Int("evaluated", rep.Evaluated),
		zap.Int("accepted", len(rep.Accepted)),
		zap.Int("duplicates", rep.Duplicates),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int64("expired", rep.Expired),
		zap.Duration("elapsed", elapsed),
	}
	if s.Metrics != nil {
		s.Metrics.ScanDone(elapsed, rep.Tasks, len(rep.Accepted), rep.Duplicates, len(rep.Skipped))
		fields = append(fields, s.Metrics.GetSnapshot().Fields()...)
	}
	log.Info("scan completed", fields...)
	s.Bus.Publish(events.EventScanCompleted, *rep)
	return rep, nil
}

func (s *Scanner) abort(log *zap.Logger, rep *Report, err error) (*Report, error) {
	rep.FinishedAt = s.Now()
	rep.Aborted = err.Error()
	log.Error("scan aborted", zap.String("code", errs.CodeOf(err)), zap.Error(err))
	return rep, err
}

// run evaluates one task. It returns an error only for shared failures.
func (s *Scanner) run(ctx context.Context, t task, rep *Report, mu *sync.Mutex) (err error) {
	skip := func(cause *errs.Error) {
		reason := cause.Msg
		if cause.Err != nil {
			reason = cause.Err.Error()
		}
		s.log.Warn("task skipped",
			zap.String("symbol", t.symbol), zap.String("timeframe", t.timeframe),
			zap.String("kind", string(cause.K)), zap.String("code", cause.C), zap.String("reason", reason))
		mu.Lock()
		rep.Skipped = append(rep.Skipped, Skip{Symbol: t.symbol, Timeframe: t.timeframe, Kind: cause.K, Code: cause.C, Reason: reason})
		mu.Unlock()
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked",
				zap.String("symbol", t.symbol), zap.String("timeframe", t.timeframe),
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			skip(errs.New(errs.KindSystem, CodePanic, fmt.Sprint(r)))
			err = nil
		}
	}()

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	rules := s.Evaluator.Rules(t.timeframe)
	need := rules.Indicators.MinBars()
	limit := max(s.Options.CandleLimit, need)

	fetchCtx, cancel := context.WithTimeout(ctx, s.Options.FetchTimeout)
	candles, err := s.Source.Candles(fetchCtx, t.symbol, t.timeframe, limit)
	timedOut := errors.Is(fetchCtx.Err(), context.DeadlineExceeded)
	cancel()
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case timedOut:
		skip(errs.Data(CodeFetchTimeout, err))
		return nil
	case errors.Is(err, market.ErrInsufficientData):
		skip(errs.Data(CodeInsufficientData, err))
		return nil
	case errors.Is(err, market.ErrMalformedCandle):
		skip(errs.Data(CodeMalformedCandle, err))
		return nil
	default:
		skip(errs.Data(CodeFetchFailed, err))
		return nil
	}

	if len(candles) < need {
		skip(errs.Data(CodeInsufficientData, fmt.Errorf("have %d candles, need %d", len(candles), need)))
		return nil
	}
	if err := market.Validate(candles); err != nil {
		skip(errs.Data(CodeMalformedCandle, err))
		return nil
	}
	pair, err := indicators.Compute(market.ToSeries(candles), rules.Indicators)
	if err != nil {
		skip(errs.Data(CodeNotReady, err))
		return nil
	}

	mu.Lock()
	rep.Evaluated++
	mu.Unlock()

	cand, err := s.Evaluator.Evaluate(ctx, strategy.Input{
		Symbol:    t.symbol,
		Timeframe: t.timeframe,
		BarTime:   candles[len(candles)-1].Time,
		Snapshots: pair,
		Now:       s.Now(),
	})
	if err != nil {
		return errs.Wrap(errs.KindSystem, "COOLDOWN_UNAVAILABLE", err, "evaluate "+t.symbol+" "+t.timeframe)
	}
	if cand == nil {
		return nil
	}

	sig := toSignal(*cand)
	err = s.Store.InsertSignal(ctx, sig)
	if errors.Is(err, db.ErrDuplicate) {
		s.log.Debug("signal already recorded",
			zap.String("symbol", sig.Symbol), zap.String("timeframe", sig.Timeframe),
			zap.String("direction", sig.Direction), zap.Time("bar_time", sig.BarTime))
		mu.Lock()
		rep.Duplicates++
		mu.Unlock()
		return nil
	}
	if err != nil {
		if relErr := s.Evaluator.Release(context.WithoutCancel(ctx), *cand); relErr != nil {
			s.log.Error("cooldown kept after failed insert",
				zap.String("symbol", sig.Symbol), zap.String("direction", sig.Direction), zap.Error(relErr))
		}
		return errs.Wrap(errs.KindSystem, "STORE_UNAVAILABLE", err, "insert signal")
	}

	s.log.Info("signal accepted",
		zap.String("signal_id", sig.ID),
		zap.String("symbol", sig.Symbol),
		zap.String("timeframe", sig.Timeframe),
		zap.String("direction", sig.Direction),
		zap.Float64("confidence", sig.Confidence),
		zap.String("grade", sig.Grade),
		zap.Float64("entry", sig.EntryPrice),
		zap.Float64("stop_loss", sig.StopLoss),
		zap.Float64("take_profit", sig.TakeProfit),
	)
	mu.Lock()
	rep.Accepted = append(rep.Accepted, sig)
	mu.Unlock()
	s.Bus.Publish(events.EventSignalAccepted, sig)
	return nil
}

func toSignal(c strategy.Candidate) db.Signal {
	conditions, _ := json.Marshal(struct {
		Primary  map[string]bool `json:"primary"`
		Optional map[string]bool `json:"optional"`
	}{c.Primary, c.Optional})
	return db.Signal{
		ID:         uuid.NewString(),
		Symbol:     c.Symbol,
		Timeframe:  c.Timeframe,
		Direction:  string(c.Direction),
		BarTime:    c.BarTime,
		EntryPrice: c.EntryPrice,
		StopLoss:   c.StopLoss,
		TakeProfit: c.TakeProfit,
		RiskReward: c.RiskReward,
		Confidence: c.Confidence,
		Grade:      string(c.Grade),
		Conditions: string(conditions),
		Status:     db.SignalActive,
		CreatedAt:  c.CreatedAt,
		ExpiresAt:  c.ExpiresAt,
	}
}
