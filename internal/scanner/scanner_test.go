package scanner

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/cooldown"
	"signal-core/internal/events"
	"signal-core/internal/market"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/internal/sizing"
	"signal-core/internal/strategy"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/errs"
	"signal-core/pkg/exchanges/common"
)

// breakoutCandles drifts down with a zigzag for 299 hours, then breaks out 5%
// on double volume so the fast EMA crosses the slow one on the last bar.
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

type fakeSource struct {
	bySymbol map[string]func(ctx context.Context, limit int) ([]market.Candle, error)
}

func (f *fakeSource) Candles(ctx context.Context, symbol, _ string, limit int) ([]market.Candle, error) {
	if fn, ok := f.bySymbol[symbol]; ok {
		return fn(ctx, limit)
	}
	return lastN(breakoutCandles(), limit), nil
}

func lastN(c []market.Candle, n int) []market.Candle {
	if n < len(c) {
		return c[len(c)-n:]
	}
	return c
}

var scanNow = time.Date(2024, 1, 13, 12, 0, 0, 0, time.UTC) // one hour after the breakout bar

func testOptions() config.ScanOptions {
	return config.ScanOptions{
		BatchSize:         2,
		Concurrency:       2,
		BatchDelay:        time.Millisecond,
		RequestsPerSecond: 1000,
		Burst:             10,
		FetchTimeout:      time.Second,
		CandleLimit:       300,
	}
}

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func newTestScanner(src market.Source, store SignalStore, symbols ...string) *Scanner {
	eval := strategy.NewEvaluator(strategy.DefaultRules(), nil, cooldown.NewMemoryStore())
	s := New(src, eval, store, symbols, []string{"1h"}, testOptions())
	s.Now = func() time.Time { return scanNow }
	return s
}

func TestBreakoutFixtureEndsOnScanBar(t *testing.T) {
	c := breakoutCandles()
	assert.Equal(t, scanNow.Add(-time.Hour), c[len(c)-1].Time)
}

func TestScanRecordsSignalOnce(t *testing.T) {
	database := newTestDB(t)
	bus := events.NewBus()
	accepted, unsub := bus.Subscribe(events.EventSignalAccepted, 4)
	defer unsub()

	s := newTestScanner(&fakeSource{}, database, "BTCUSDT")
	s.Bus = bus
	s.Metrics = monitor.NewMetrics()

	rep, err := s.Scan(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Tasks)
	assert.Equal(t, 1, rep.Evaluated)
	require.Len(t, rep.Accepted, 1)
	assert.Empty(t, rep.Skipped)

	sig := rep.Accepted[0]
	assert.Equal(t, "LONG", sig.Direction)
	assert.GreaterOrEqual(t, sig.Confidence, 85.0)
	assert.Contains(t, []string{"A", "A+"}, sig.Grade)
	assert.Contains(t, sig.Conditions, "trend_crossover")

	stored, err := database.ListSignals(context.Background(), db.SignalFilter{Status: db.SignalActive})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, sig.ID, stored[0].ID)

	select {
	case msg := <-accepted:
		assert.Equal(t, sig.ID, msg.(db.Signal).ID)
	case <-time.After(time.Second):
		t.Fatal("no signal event")
	}

	// Same bar again: the cooldown holds, nothing new is recorded.
	rep, err = s.Scan(context.Background(), Request{})
	require.NoError(t, err)
	assert.Empty(t, rep.Accepted)
	assert.Equal(t, uint64(2), s.Metrics.GetSnapshot().Scans)
}

func TestScanDuplicateIsBenign(t *testing.T) {
	database := newTestDB(t)
	first := newTestScanner(&fakeSource{}, database, "BTCUSDT")
	second := newTestScanner(&fakeSource{}, database, "BTCUSDT") // separate cooldown store

	rep, err := first.Scan(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, rep.Accepted, 1)

	rep, err = second.Scan(context.Background(), Request{})
	require.NoError(t, err)
	assert.Empty(t, rep.Accepted)
	assert.Equal(t, 1, rep.Duplicates)
}

func TestScanSkipsLocalFailures(t *testing.T) {
	malformed := breakoutCandles()
	malformed[200].High = malformed[200].Low - 1

	src := &fakeSource{bySymbol: map[string]func(context.Context, int) ([]market.Candle, error){
		"ETHUSDT": func(context.Context, int) ([]market.Candle, error) {
			return nil, errors.New("503 service unavailable")
		},
		"SOLUSDT": func(context.Context, int) ([]market.Candle, error) {
			return breakoutCandles()[:50], nil
		},
		"XRPUSDT": func(context.Context, int) ([]market.Candle, error) {
			panic("decoder exploded")
		},
		"ADAUSDT": func(context.Context, int) ([]market.Candle, error) {
			return malformed, nil
		},
		"DOGEUSDT": func(ctx context.Context, _ int) ([]market.Candle, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	s := newTestScanner(src, newTestDB(t), "BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "ADAUSDT", "DOGEUSDT")
	s.Options.FetchTimeout = 20 * time.Millisecond

	rep, err := s.Scan(context.Background(), Request{})
	require.NoError(t, err, "local failures never abort the scan")
	assert.Equal(t, 6, rep.Tasks)
	require.Len(t, rep.Accepted, 1)
	assert.Equal(t, "BTCUSDT", rep.Accepted[0].Symbol)

	codes := map[string]string{}
	kinds := map[string]errs.Kind{}
	for _, sk := range rep.Skipped {
		codes[sk.Symbol] = sk.Code
		kinds[sk.Symbol] = sk.Kind
	}
	assert.Equal(t, map[string]string{
		"ETHUSDT":  CodeFetchFailed,
		"SOLUSDT":  CodeInsufficientData,
		"XRPUSDT":  CodePanic,
		"ADAUSDT":  CodeMalformedCandle,
		"DOGEUSDT": CodeFetchTimeout,
	}, codes)
	assert.Equal(t, errs.KindSystem, kinds["XRPUSDT"])
	assert.Equal(t, errs.KindData, kinds["ETHUSDT"])
}

type failingStore struct {
	insertErr error
	expireErr error
}

func (f failingStore) InsertSignal(context.Context, db.Signal) error { return f.insertErr }

func (f failingStore) ExpireSignals(context.Context, time.Time) (int64, error) {
	return 0, f.expireErr
}

func TestScanAbortsOnStoreFailure(t *testing.T) {
	s := newTestScanner(&fakeSource{}, failingStore{insertErr: errors.New("disk I/O error")}, "BTCUSDT")
	rep, err := s.Scan(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, "STORE_UNAVAILABLE", errs.CodeOf(err))
	assert.Equal(t, errs.KindSystem, errs.KindOf(err))
	assert.NotEmpty(t, rep.Aborted)

	s = newTestScanner(&fakeSource{}, failingStore{expireErr: errors.New("database is locked")}, "BTCUSDT")
	_, err = s.Scan(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, "STORE_UNAVAILABLE", errs.CodeOf(err))
}

func TestScanFailedInsertReleasesCooldown(t *testing.T) {
	s := newTestScanner(&fakeSource{}, failingStore{insertErr: errors.New("disk I/O error")}, "BTCUSDT")
	_, err := s.Scan(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, "STORE_UNAVAILABLE", errs.CodeOf(err))

	s.Store = newTestDB(t)
	s.Now = func() time.Time { return scanNow.Add(time.Minute) }
	rep, err := s.Scan(context.Background(), Request{})
	require.NoError(t, err)
	assert.Len(t, rep.Accepted, 1, "the bar's signal is recorded once the store recovers")
}

func TestScanExpiresStaleSignalsFirst(t *testing.T) {
	database := newTestDB(t)
	old := scanNow.Add(-48 * time.Hour)
	require.NoError(t, database.InsertSignal(context.Background(), db.Signal{
		ID: "stale", Symbol: "ETHUSDT", Timeframe: "1h", Direction: "SHORT",
		BarTime: old, EntryPrice: 3000, StopLoss: 3100, TakeProfit: 2800, RiskReward: 2,
		Confidence: 80, Grade: "B", Status: db.SignalActive,
		CreatedAt: old, ExpiresAt: old.Add(4 * time.Hour),
	}))

	s := newTestScanner(&fakeSource{}, database, "BTCUSDT")
	rep, err := s.Scan(context.Background(), Request{Symbols: []string{"BTCUSDT"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Expired)

	stale, err := database.GetSignal(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, db.SignalExpired, stale.Status)
}

func TestScanRequestNarrowsTasks(t *testing.T) {
	s := newTestScanner(&fakeSource{}, newTestDB(t), "BTCUSDT", "ETHUSDT")
	rep, err := s.Scan(context.Background(), Request{Symbols: []string{"ETHUSDT"}, Timeframes: []string{"1h", "4h"}})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Tasks)
}

func TestScanCanceled(t *testing.T) {
	s := newTestScanner(&fakeSource{}, newTestDB(t), "BTCUSDT", "ETHUSDT", "SOLUSDT")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Scan(ctx, Request{})
	require.Error(t, err)
}

func TestIntentForSignal(t *testing.T) {
	sig := db.Signal{ID: "sig-1", Symbol: "ETHUSDT", Direction: "SHORT", StopLoss: 3100, TakeProfit: 2800}
	risk := config.Risk{Mode: sizing.ModeRiskPercent, RiskBudget: 20, Leverage: 3, MaxLeverage: 10}

	in := IntentFor(sig, risk)
	assert.Equal(t, common.SideSell, in.Side)
	assert.Equal(t, sizing.ModeRiskPercent, in.SizingMode)
	assert.Equal(t, 20.0, in.RiskBudget)
	assert.Equal(t, 3, in.Leverage)
	assert.Equal(t, "sig-1", in.IdempotencyKey)
	assert.Equal(t, "sig-1", in.SignalID)
	assert.Equal(t, 3100.0, in.StopLoss)
}

func TestAutoExecutorForward(t *testing.T) {
	q := order.NewQueue(1)
	a := NewAutoExecutor(events.NewBus(), q, config.Risk{Mode: sizing.ModeNotional, Amount: 100, Leverage: 5, MaxLeverage: 20})
	a.Now = func() time.Time { return scanNow }

	live := db.Signal{ID: "a", Symbol: "BTCUSDT", Direction: "LONG", ExpiresAt: scanNow.Add(time.Hour)}
	assert.True(t, a.Forward(live))
	assert.False(t, a.Forward(db.Signal{ID: "b", Symbol: "BTCUSDT", Direction: "LONG", ExpiresAt: scanNow.Add(time.Hour)}), "queue full")
	assert.False(t, a.Forward(db.Signal{ID: "c", Symbol: "BTCUSDT", Direction: "LONG", ExpiresAt: scanNow}), "expired")
	assert.Equal(t, 1, q.Len())
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(context.Background())
	assert.Error(t, s.Register("scan", "not a cron spec", func(context.Context) error { return nil }))
	assert.NoError(t, s.Register("scan", "0 */15 * * * *", func(context.Context) error { return nil }))
	assert.Len(t, s.Cron.Entries(), 1)
}
