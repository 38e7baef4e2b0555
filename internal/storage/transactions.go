package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"patungan/internal/core"
)

// PostTransaction inserts a transaction and bumps the period and pool
// spent counters in a single SQL transaction. The counters are updated
// with in-place increments, never read-modify-write, so concurrent
// posts cannot lose amounts.
func (s *Store) PostTransaction(ctx context.Context, t *core.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var poolID string
	err = tx.QueryRowContext(ctx,
		`SELECT pool_id FROM pool_periods WHERE id = ?`, t.PeriodID).Scan(&poolID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("look up period: %w", err)
	}
	// A period id from another pool is indistinguishable from a missing
	// one to the caller.
	if poolID != t.PoolID {
		return core.ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pool_transactions (id, pool_id, period_id, amount_cents, description, tx_type, tx_date, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PoolID, t.PeriodID, t.Amount.Cents, t.Description,
		string(t.Type), t.Date.String(), t.CreatedBy, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE pool_periods SET spent_cents = spent_cents + ? WHERE id = ?`,
		t.Amount.Cents, t.PeriodID)
	if err != nil {
		return fmt.Errorf("increment period spent: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE pools SET spent_cents = spent_cents + ? WHERE id = ?`,
		t.Amount.Cents, t.PoolID)
	if err != nil {
		return fmt.Errorf("increment pool spent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a period's transactions in insertion order.
func (s *Store) ListTransactions(ctx context.Context, periodID string) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pool_id, period_id, amount_cents, description, tx_type, tx_date, created_by, created_at
		 FROM pool_transactions WHERE period_id = ? ORDER BY created_at, id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(row rowScanner) (*core.Transaction, error) {
	var (
		t      core.Transaction
		txType string
		txDate string
	)
	err := row.Scan(&t.ID, &t.PoolID, &t.PeriodID, &t.Amount.Cents,
		&t.Description, &txType, &txDate, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = core.TxType(txType)
	if t.Date, err = core.ParseDate(txDate); err != nil {
		return nil, fmt.Errorf("parse transaction date %q: %w", txDate, err)
	}
	return &t, nil
}
