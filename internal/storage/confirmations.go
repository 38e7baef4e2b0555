package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"patungan/internal/core"
)

// Confirm marks the member's contribution for the period as confirmed.
// A second confirm for the same (period, user) fails with
// ErrAlreadyConfirmed; the conflict check and the write are a single
// statement so racing confirms cannot both win.
func (s *Store) Confirm(ctx context.Context, periodID, userID string) (int64, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pool_period_confirmations (period_id, user_id, confirmed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(period_id, user_id) DO UPDATE SET confirmed_at = excluded.confirmed_at
		 WHERE pool_period_confirmations.confirmed_at IS NULL`,
		periodID, userID, now)
	if err != nil {
		return 0, fmt.Errorf("confirm contribution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, core.ErrAlreadyConfirmed
	}
	return now, nil
}

// SetConfirmed upserts the confirmation row to the requested state. The
// row is kept when un-confirming so toggling never deletes history.
func (s *Store) SetConfirmed(ctx context.Context, periodID, userID string, confirmed bool) (*int64, error) {
	var confirmedAt any
	var stamp *int64
	if confirmed {
		now := time.Now().Unix()
		confirmedAt = now
		stamp = &now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pool_period_confirmations (period_id, user_id, confirmed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(period_id, user_id) DO UPDATE SET confirmed_at = excluded.confirmed_at`,
		periodID, userID, confirmedAt)
	if err != nil {
		return nil, fmt.Errorf("set confirmation: %w", err)
	}
	return stamp, nil
}

// Roster returns one entry per member of the period's parent pool, with
// the confirmation timestamp where one exists.
func (s *Store) Roster(ctx context.Context, periodID string) ([]core.RosterEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.user_id, m.role, c.confirmed_at
		 FROM pool_periods p
		 JOIN pool_members m ON m.pool_id = p.pool_id
		 LEFT JOIN pool_period_confirmations c ON c.period_id = p.id AND c.user_id = m.user_id
		 WHERE p.id = ?
		 ORDER BY m.joined_at, m.user_id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	defer rows.Close()

	var roster []core.RosterEntry
	for rows.Next() {
		var (
			e           core.RosterEntry
			role        string
			confirmedAt sql.NullInt64
		)
		if err := rows.Scan(&e.UserID, &role, &confirmedAt); err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		e.Role = core.Role(role)
		if confirmedAt.Valid {
			e.ConfirmedAt = &confirmedAt.Int64
		}
		roster = append(roster, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return roster, nil
}

// ListConfirmations returns the period's confirmation rows.
func (s *Store) ListConfirmations(ctx context.Context, periodID string) ([]core.Confirmation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period_id, user_id, confirmed_at
		 FROM pool_period_confirmations WHERE period_id = ? ORDER BY user_id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list confirmations: %w", err)
	}
	defer rows.Close()

	var confs []core.Confirmation
	for rows.Next() {
		var c core.Confirmation
		var confirmedAt sql.NullInt64
		if err := rows.Scan(&c.PeriodID, &c.UserID, &confirmedAt); err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		if confirmedAt.Valid {
			c.ConfirmedAt = &confirmedAt.Int64
		}
		confs = append(confs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate confirmations: %w", err)
	}
	return confs, nil
}
