package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AcquireCooldown records now as the last emission for key unless a previous
// emission happened after cutoff. The check and the write are one statement.
func (d *Database) AcquireCooldown(ctx context.Context, key string, now, cutoff time.Time) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO cooldowns (cooldown_key, last_emitted_at) VALUES (?, ?)
		ON CONFLICT(cooldown_key) DO UPDATE SET last_emitted_at = excluded.last_emitted_at
		WHERE cooldowns.last_emitted_at <= ?
	`, key, now.UnixMilli(), cutoff.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("acquire cooldown: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire cooldown rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseCooldown deletes the entry for key if it still holds at.
func (d *Database) ReleaseCooldown(ctx context.Context, key string, at time.Time) error {
	if _, err := d.DB.ExecContext(ctx,
		`DELETE FROM cooldowns WHERE cooldown_key = ? AND last_emitted_at = ?`, key, at.UnixMilli()); err != nil {
		return fmt.Errorf("release cooldown: %w", err)
	}
	return nil
}

// LastCooldown returns the last emission time for key.
func (d *Database) LastCooldown(ctx context.Context, key string) (time.Time, bool, error) {
	var ms int64
	err := d.DB.QueryRowContext(ctx, `SELECT last_emitted_at FROM cooldowns WHERE cooldown_key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query cooldown: %w", err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
