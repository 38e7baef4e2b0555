package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"patungan/internal/core"
)

func (s *Store) GetPeriod(ctx context.Context, periodID string) (*core.Period, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pool_id, period_number, start_date, end_date, budget_cents, spent_cents
		 FROM pool_periods WHERE id = ?`, periodID)
	period, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get period: %w", err)
	}
	return period, nil
}

// ListPeriods returns a pool's periods ordered by period number, without
// nested rows.
func (s *Store) ListPeriods(ctx context.Context, poolID string) ([]core.Period, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pool_id, period_number, start_date, end_date, budget_cents, spent_cents
		 FROM pool_periods WHERE pool_id = ? ORDER BY period_number`, poolID)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	defer rows.Close()

	var periods []core.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan period: %w", err)
		}
		periods = append(periods, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate periods: %w", err)
	}
	return periods, nil
}

// ListPeriodsDetailed returns a pool's periods with their transactions
// and confirmations nested, ordered by period number.
func (s *Store) ListPeriodsDetailed(ctx context.Context, poolID string) ([]core.Period, error) {
	periods, err := s.ListPeriods(ctx, poolID)
	if err != nil {
		return nil, err
	}
	index := make(map[string]*core.Period, len(periods))
	for i := range periods {
		index[periods[i].ID] = &periods[i]
	}

	txRows, err := s.db.QueryContext(ctx,
		`SELECT id, pool_id, period_id, amount_cents, description, tx_type, tx_date, created_by, created_at
		 FROM pool_transactions WHERE pool_id = ? ORDER BY created_at, id`, poolID)
	if err != nil {
		return nil, fmt.Errorf("list pool transactions: %w", err)
	}
	defer txRows.Close()
	for txRows.Next() {
		t, err := scanTransaction(txRows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if p, ok := index[t.PeriodID]; ok {
			p.Transactions = append(p.Transactions, *t)
		}
	}
	if err := txRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	confRows, err := s.db.QueryContext(ctx,
		`SELECT c.period_id, c.user_id, c.confirmed_at
		 FROM pool_period_confirmations c
		 JOIN pool_periods p ON p.id = c.period_id
		 WHERE p.pool_id = ?`, poolID)
	if err != nil {
		return nil, fmt.Errorf("list pool confirmations: %w", err)
	}
	defer confRows.Close()
	for confRows.Next() {
		var c core.Confirmation
		var confirmedAt sql.NullInt64
		if err := confRows.Scan(&c.PeriodID, &c.UserID, &confirmedAt); err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		if confirmedAt.Valid {
			c.ConfirmedAt = &confirmedAt.Int64
		}
		if p, ok := index[c.PeriodID]; ok {
			p.Confirmations = append(p.Confirmations, c)
		}
	}
	if err := confRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate confirmations: %w", err)
	}

	return periods, nil
}

func scanPeriod(row rowScanner) (*core.Period, error) {
	var (
		p          core.Period
		start, end string
	)
	err := row.Scan(&p.ID, &p.PoolID, &p.Number, &start, &end, &p.Budget.Cents, &p.Spent.Cents)
	if err != nil {
		return nil, err
	}
	if p.StartDate, err = core.ParseDate(start); err != nil {
		return nil, fmt.Errorf("parse start date %q: %w", start, err)
	}
	if p.EndDate, err = core.ParseDate(end); err != nil {
		return nil, fmt.Errorf("parse end date %q: %w", end, err)
	}
	return &p, nil
}
