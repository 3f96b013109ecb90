package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertExecution appends an execution outcome.
func (d *Database) InsertExecution(ctx context.Context, e Execution) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO executions (
			id, idempotency_key, signal_id, symbol, side, quantity, entry_price, leverage,
			stop_loss, take_profit, exchange_order_id, outcome, status, reason_code, message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.IdempotencyKey, e.SignalID, e.Symbol, e.Side, e.Quantity, e.EntryPrice, e.Leverage,
		e.StopLoss, e.TakeProfit, e.ExchangeOrderID, e.Outcome, e.Status, e.ReasonCode, e.Message, toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// InsertExecutionAttempt appends one exchange request to the audit log.
func (d *Database) InsertExecutionAttempt(ctx context.Context, a ExecutionAttempt) error {
	reduceOnly := 0
	if a.ReduceOnly {
		reduceOnly = 1
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO execution_attempts (
			execution_id, attempt, stage, order_type, time_in_force, reduce_only, quantity, price,
			leverage, exchange_order_id, outcome, error_code, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ExecutionID, a.Attempt, a.Stage, a.OrderType, a.TimeInForce, reduceOnly, a.Quantity, a.Price,
		a.Leverage, a.ExchangeOrderID, a.Outcome, a.ErrorCode, a.ErrorMessage, toMillis(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert execution attempt: %w", err)
	}
	return nil
}

// ListExecutionAttempts returns the attempts of one execution in order.
func (d *Database) ListExecutionAttempts(ctx context.Context, executionID string) ([]ExecutionAttempt, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT execution_id, attempt, stage, order_type, time_in_force, reduce_only, quantity, price,
			leverage, exchange_order_id, outcome, error_code, error_message, created_at
		FROM execution_attempts WHERE execution_id = ?
		ORDER BY id ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query execution attempts: %w", err)
	}
	defer rows.Close()

	var out []ExecutionAttempt
	for rows.Next() {
		var (
			a          ExecutionAttempt
			reduceOnly int
			created    int64
		)
		if err := rows.Scan(&a.ExecutionID, &a.Attempt, &a.Stage, &a.OrderType, &a.TimeInForce, &reduceOnly, &a.Quantity, &a.Price,
			&a.Leverage, &a.ExchangeOrderID, &a.Outcome, &a.ErrorCode, &a.ErrorMessage, &created); err != nil {
			return nil, fmt.Errorf("scan execution attempt: %w", err)
		}
		a.ReduceOnly = reduceOnly == 1
		a.CreatedAt = fromMillis(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetExecution loads one execution by id.
func (d *Database) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return e, nil
}

// FindExecutionByKey returns the newest non-failed execution for an
// idempotency key created at or after since. Unknown outcomes are returned
// so the key stays reserved until the venue state is confirmed.
func (d *Database) FindExecutionByKey(ctx context.Context, key string, since time.Time) (*Execution, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE idempotency_key = ? AND created_at >= ? AND outcome != ?
		ORDER BY created_at DESC LIMIT 1
	`, key, toMillis(since), OutcomeFailed)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query execution by key: %w", err)
	}
	return e, nil
}

// ListExecutions returns executions newest first.
func (d *Database) ListExecutions(ctx context.Context, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	return d.queryExecutions(ctx, `SELECT `+executionColumns+` FROM executions ORDER BY created_at DESC LIMIT ?`, limit)
}

// ListOpenExecutions returns executions whose position has not been closed.
func (d *Database) ListOpenExecutions(ctx context.Context) ([]Execution, error) {
	return d.queryExecutions(ctx, `SELECT `+executionColumns+` FROM executions WHERE status = ? ORDER BY created_at ASC`, ExecutionOpen)
}

// CloseExecution transitions an open execution to closed.
func (d *Database) CloseExecution(ctx context.Context, id string, at time.Time) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE executions SET status = ?, closed_at = ?
		WHERE id = ? AND status = ?
	`, ExecutionClosed, toMillis(at), id, ExecutionOpen)
	if err != nil {
		return fmt.Errorf("close execution: %w", err)
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

func (d *Database) queryExecutions(ctx context.Context, q string, args ...any) ([]Execution, error) {
	rows, err := d.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

const executionColumns = `id, idempotency_key, signal_id, symbol, side, quantity, entry_price, leverage,
	stop_loss, take_profit, exchange_order_id, outcome, status, reason_code, message, created_at, closed_at`

func scanExecution(r rowScanner) (*Execution, error) {
	var (
		e       Execution
		created int64
		closed  sql.NullInt64
	)
	if err := r.Scan(&e.ID, &e.IdempotencyKey, &e.SignalID, &e.Symbol, &e.Side, &e.Quantity, &e.EntryPrice, &e.Leverage,
		&e.StopLoss, &e.TakeProfit, &e.ExchangeOrderID, &e.Outcome, &e.Status, &e.ReasonCode, &e.Message, &created, &closed); err != nil {
		return nil, err
	}
	e.CreatedAt = fromMillis(created)
	if closed.Valid && closed.Int64 > 0 {
		t := fromMillis(closed.Int64)
		e.ClosedAt = &t
	}
	return &e, nil
}
