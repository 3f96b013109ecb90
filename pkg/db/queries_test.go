package db

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func testSignal(id string, bar time.Time) Signal {
	return Signal{
		ID:         id,
		Symbol:     "BTCUSDT",
		Timeframe:  "1h",
		Direction:  "LONG",
		BarTime:    bar,
		EntryPrice: 50000,
		StopLoss:   49000,
		TakeProfit: 52000,
		RiskReward: 2,
		Confidence: 88,
		Grade:      "A",
		CreatedAt:  bar.Add(time.Hour),
		ExpiresAt:  bar.Add(4 * time.Hour),
	}
}

func TestInsertSignalUniqueKey(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	bar := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, database.InsertSignal(ctx, testSignal("s1", bar)))

	t.Run("same key is duplicate", func(t *testing.T) {
		err := database.InsertSignal(ctx, testSignal("s2", bar))
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("other direction is new", func(t *testing.T) {
		s := testSignal("s3", bar)
		s.Direction = "SHORT"
		assert.NoError(t, database.InsertSignal(ctx, s))
	})

	t.Run("next bar is new", func(t *testing.T) {
		assert.NoError(t, database.InsertSignal(ctx, testSignal("s4", bar.Add(time.Hour))))
	})

	got, err := database.GetSignal(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, SignalActive, got.Status)
	assert.Equal(t, bar, got.BarTime)
	assert.Equal(t, "{}", got.Conditions)
}

func TestInsertSignalConcurrentDuplicates(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	bar := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	var inserted, dup int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := database.InsertSignal(ctx, testSignal(string(rune('a'+i)), bar))
			switch {
			case err == nil:
				atomic.AddInt32(&inserted, 1)
			case err == ErrDuplicate:
				atomic.AddInt32(&dup, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted)
	assert.Equal(t, int32(7), dup)
}

func TestSignalStatusTransitions(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	bar := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, database.InsertSignal(ctx, testSignal("exec", bar)))
	require.NoError(t, database.InsertSignal(ctx, testSignal("stale", bar.Add(-10*time.Hour))))

	require.NoError(t, database.MarkSignalExecuted(ctx, "exec"))
	assert.ErrorIs(t, database.MarkSignalExecuted(ctx, "exec"), ErrNotFound)

	n, err := database.ExpireSignals(ctx, bar.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := database.ListSignals(ctx, SignalFilter{Status: SignalActive})
	require.NoError(t, err)
	assert.Empty(t, active)

	expired, err := database.ListSignals(ctx, SignalFilter{Status: SignalExpired, Symbol: "BTCUSDT", Limit: 10})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "stale", expired[0].ID)

	// expired is terminal
	assert.ErrorIs(t, database.MarkSignalExecuted(ctx, "stale"), ErrNotFound)
}

func TestExecutionLog(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	exec := Execution{
		ID:              "e1",
		IdempotencyKey:  "key-1",
		Symbol:          "BTCUSDT",
		Side:            "BUY",
		Quantity:        0.01,
		EntryPrice:      50000,
		Leverage:        5,
		ExchangeOrderID: "123",
		Outcome:         OutcomeSuccess,
		Status:          ExecutionOpen,
		CreatedAt:       now,
	}
	require.NoError(t, database.InsertExecution(ctx, exec))
	for i := 1; i <= 3; i++ {
		require.NoError(t, database.InsertExecutionAttempt(ctx, ExecutionAttempt{
			ExecutionID: "e1",
			Attempt:     i,
			Stage:       "primary",
			OrderType:   "MARKET",
			ReduceOnly:  i == 2,
			Quantity:    0.01,
			Leverage:    5,
			Outcome:     "rejected",
			ErrorCode:   -2022,
			CreatedAt:   now,
		}))
	}

	attempts, err := database.ListExecutionAttempts(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.True(t, attempts[1].ReduceOnly)
	assert.False(t, attempts[2].ReduceOnly)

	found, err := database.FindExecutionByKey(ctx, "key-1", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "e1", found.ID)

	_, err = database.FindExecutionByKey(ctx, "key-1", now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)

	open, err := database.ListOpenExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, database.CloseExecution(ctx, "e1", now.Add(time.Hour)))
	got, err := database.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, ExecutionClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
	assert.ErrorIs(t, database.CloseExecution(ctx, "e1", now), ErrNotFound)
}

func TestAcquireCooldown(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	window := 4 * time.Hour

	ok, err := database.AcquireCooldown(ctx, "BTCUSDT|LONG", now, now.Add(-window))
	require.NoError(t, err)
	assert.True(t, ok)

	later := now.Add(time.Hour)
	ok, err = database.AcquireCooldown(ctx, "BTCUSDT|LONG", later, later.Add(-window))
	require.NoError(t, err)
	assert.False(t, ok)

	last, found, err := database.LastCooldown(ctx, "BTCUSDT|LONG")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, now, last)

	after := now.Add(window)
	ok, err = database.AcquireCooldown(ctx, "BTCUSDT|LONG", after, after.Add(-window))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseCooldown(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	ok, err := database.AcquireCooldown(ctx, "ETHUSDT|SHORT", now, now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, database.ReleaseCooldown(ctx, "ETHUSDT|SHORT", now.Add(time.Second)))
	_, found, err := database.LastCooldown(ctx, "ETHUSDT|SHORT")
	require.NoError(t, err)
	assert.True(t, found, "a different timestamp leaves the entry")

	require.NoError(t, database.ReleaseCooldown(ctx, "ETHUSDT|SHORT", now))
	_, found, err = database.LastCooldown(ctx, "ETHUSDT|SHORT")
	require.NoError(t, err)
	assert.False(t, found)
}
