// Package cooldown gates repeat signals per (symbol, direction).
package cooldown

import (
	"context"
	"time"

	"signal-core/pkg/cache"
	"signal-core/pkg/db"
)

// Key identifies a cooldown entry.
type Key struct {
	Symbol    string
	Direction string
}

func (k Key) String() string {
	return k.Symbol + "|" + k.Direction
}

// Store tracks the last emission per key.
type Store interface {
	// Acquire records now as the last emission for key when no emission
	// happened within window before now, and reports whether it did.
	// The check and the write are atomic per key.
	Acquire(ctx context.Context, key Key, now time.Time, window time.Duration) (bool, error)
	// Last returns the last emission time for key.
	Last(ctx context.Context, key Key) (time.Time, bool, error)
	// Release undoes an Acquire made at now unless a later one replaced it.
	// Any earlier entry was already outside the window, so dropping the key
	// is equivalent to restoring it.
	Release(ctx context.Context, key Key, now time.Time) error
}

// MemoryStore keeps entries for the process lifetime.
type MemoryStore struct {
	entries *cache.Sharded[time.Time]
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: cache.NewSharded[time.Time]()}
}

func (s *MemoryStore) Acquire(_ context.Context, key Key, now time.Time, window time.Duration) (bool, error) {
	return s.entries.Update(key.String(), func(last time.Time, exists bool) (time.Time, bool) {
		if exists && now.Sub(last) < window {
			return last, false
		}
		return now, true
	}), nil
}

func (s *MemoryStore) Last(_ context.Context, key Key) (time.Time, bool, error) {
	t, ok := s.entries.Get(key.String())
	return t, ok, nil
}

func (s *MemoryStore) Release(_ context.Context, key Key, now time.Time) error {
	k := key.String()
	if last, ok := s.entries.Get(k); ok && last.Equal(now) {
		s.entries.Delete(k)
	}
	return nil
}

// SQLStore keeps entries in the cooldowns table so several instances share them.
type SQLStore struct {
	DB *db.Database
}

// NewSQLStore wraps an open database with migrations applied.
func NewSQLStore(database *db.Database) *SQLStore {
	return &SQLStore{DB: database}
}

func (s *SQLStore) Acquire(ctx context.Context, key Key, now time.Time, window time.Duration) (bool, error) {
	return s.DB.AcquireCooldown(ctx, key.String(), now, now.Add(-window))
}

func (s *SQLStore) Last(ctx context.Context, key Key) (time.Time, bool, error) {
	return s.DB.LastCooldown(ctx, key.String())
}

func (s *SQLStore) Release(ctx context.Context, key Key, now time.Time) error {
	return s.DB.ReleaseCooldown(ctx, key.String(), now)
}
