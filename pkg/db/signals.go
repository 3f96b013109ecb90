package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsertSignal stores a new active signal. It returns ErrDuplicate when the
// (symbol, timeframe, direction, bar time) key already exists.
func (d *Database) InsertSignal(ctx context.Context, s Signal) error {
	if s.Status == "" {
		s.Status = SignalActive
	}
	if s.Conditions == "" {
		s.Conditions = "{}"
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (
			id, symbol, timeframe, direction, bar_time, entry_price, stop_loss, take_profit,
			risk_reward, confidence, grade, conditions, status, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, direction, bar_time) DO NOTHING
	`,
		s.ID, s.Symbol, s.Timeframe, s.Direction, toMillis(s.BarTime), s.EntryPrice, s.StopLoss, s.TakeProfit,
		s.RiskReward, s.Confidence, s.Grade, s.Conditions, s.Status, toMillis(s.CreatedAt), toMillis(s.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert signal rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetSignal loads one signal by id.
func (d *Database) GetSignal(ctx context.Context, id string) (*Signal, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id)
	s, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query signal: %w", err)
	}
	return s, nil
}

// ListSignals returns signals newest first.
func (d *Database) ListSignals(ctx context.Context, f SignalFilter) ([]Signal, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	q := `SELECT ` + signalColumns + ` FROM signals`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY bar_time DESC, created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// MarkSignalExecuted moves an active signal to executed. Terminal signals are
// left untouched and ErrNotFound is returned.
func (d *Database) MarkSignalExecuted(ctx context.Context, id string) error {
	return d.transitionSignal(ctx, id, SignalExecuted)
}

func (d *Database) transitionSignal(ctx context.Context, id, status string) error {
	res, err := d.DB.ExecContext(ctx, `UPDATE signals SET status = ? WHERE id = ? AND status = ?`, status, id, SignalActive)
	if err != nil {
		return fmt.Errorf("update signal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireSignals moves active signals whose expiry has passed to expired.
func (d *Database) ExpireSignals(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE signals SET status = ?
		WHERE status = ? AND expires_at <= ?
	`, SignalExpired, SignalActive, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("expire signals: %w", err)
	}
	return res.RowsAffected()
}

const signalColumns = `id, symbol, timeframe, direction, bar_time, entry_price, stop_loss, take_profit,
	risk_reward, confidence, grade, conditions, status, created_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(r rowScanner) (*Signal, error) {
	var (
		s                           Signal
		barTime, created, expiresAt int64
	)
	if err := r.Scan(&s.ID, &s.Symbol, &s.Timeframe, &s.Direction, &barTime, &s.EntryPrice, &s.StopLoss, &s.TakeProfit,
		&s.RiskReward, &s.Confidence, &s.Grade, &s.Conditions, &s.Status, &created, &expiresAt); err != nil {
		return nil, err
	}
	s.BarTime = fromMillis(barTime)
	s.CreatedAt = fromMillis(created)
	s.ExpiresAt = fromMillis(expiresAt)
	return &s, nil
}
