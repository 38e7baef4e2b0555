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

// CreatePool persists a pool together with its periods, the creator's
// owner membership and any initial invitations in one transaction.
func (s *Store) CreatePool(ctx context.Context, pool *core.Pool, windows []core.PeriodWindow, invitations []core.Invitation) ([]core.Period, error) {
	if pool.ID == "" {
		pool.ID = uuid.New().String()
	}
	if pool.CreatedAt == 0 {
		pool.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pools (id, name, description, total_cents, spent_cents, period_unit, duration, start_date, end_date, category_id, created_by, created_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)`,
		pool.ID, pool.Name, pool.Description, pool.Total.Cents,
		string(pool.Unit), pool.Duration, pool.StartDate.String(), pool.EndDate.String(),
		nullable(pool.CategoryID), pool.CreatedBy, pool.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pool: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pool_members (pool_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		pool.ID, pool.CreatedBy, string(core.RoleOwner), pool.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	periods := make([]core.Period, len(windows))
	for i, w := range windows {
		p := core.Period{
			ID:        uuid.New().String(),
			PoolID:    pool.ID,
			Number:    w.Number,
			StartDate: w.StartDate,
			EndDate:   w.EndDate,
			Budget:    w.Budget,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pool_periods (id, pool_id, period_number, start_date, end_date, budget_cents, spent_cents)
			 VALUES (?, ?, ?, ?, ?, ?, 0)`,
			p.ID, p.PoolID, p.Number, p.StartDate.String(), p.EndDate.String(), p.Budget.Cents,
		)
		if err != nil {
			return nil, fmt.Errorf("insert period %d: %w", w.Number, err)
		}
		periods[i] = p
	}

	for i := range invitations {
		inv := &invitations[i]
		if inv.ID == "" {
			inv.ID = uuid.New().String()
		}
		inv.PoolID = pool.ID
		inv.Status = core.InvitePending
		if inv.InvitedAt == 0 {
			inv.InvitedAt = pool.CreatedAt
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pool_invitations (id, pool_id, email, invited_by, status, invited_at) VALUES (?, ?, ?, ?, ?, ?)`,
			inv.ID, inv.PoolID, inv.Email, inv.InvitedBy, string(inv.Status), inv.InvitedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert invitation for %s: %w", inv.Email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return periods, nil
}

func (s *Store) GetPool(ctx context.Context, poolID string) (*core.Pool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, total_cents, spent_cents, period_unit, duration, start_date, end_date, category_id, created_by, created_at
		 FROM pools WHERE id = ?`, poolID)
	pool, err := scanPool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return pool, nil
}

// ListPoolsForUser returns the pools the user is a member of, newest
// first.
func (s *Store) ListPoolsForUser(ctx context.Context, userID string) ([]core.Pool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.name, p.description, p.total_cents, p.spent_cents, p.period_unit, p.duration, p.start_date, p.end_date, p.category_id, p.created_by, p.created_at
		 FROM pools p
		 JOIN pool_members m ON m.pool_id = p.id
		 WHERE m.user_id = ?
		 ORDER BY p.created_at DESC, p.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []core.Pool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, *pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return pools, nil
}

// UpdatePool changes the mutable pool fields. Schedule and amounts are
// immutable after creation.
func (s *Store) UpdatePool(ctx context.Context, poolID, name, description, categoryID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pools SET name = ?, description = ?, category_id = ? WHERE id = ?`,
		name, description, nullable(categoryID), poolID)
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// DeletePool removes a pool; periods, members, invitations, transactions
// and confirmations cascade.
func (s *Store) DeletePool(ctx context.Context, poolID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pools WHERE id = ?`, poolID)
	if err != nil {
		return fmt.Errorf("delete pool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// GetMember returns the membership row for (pool, user), or ErrNotFound.
func (s *Store) GetMember(ctx context.Context, poolID, userID string) (*core.Member, error) {
	var m core.Member
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT pool_id, user_id, role, joined_at FROM pool_members WHERE pool_id = ? AND user_id = ?`,
		poolID, userID).Scan(&m.PoolID, &m.UserID, &role, &m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	m.Role = core.Role(role)
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context, poolID string) ([]core.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pool_id, user_id, role, joined_at FROM pool_members WHERE pool_id = ? ORDER BY joined_at, user_id`,
		poolID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		var m core.Member
		var role string
		if err := rows.Scan(&m.PoolID, &m.UserID, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = core.Role(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// RecomputeSpent rebuilds every period's spent counter from its
// transactions and the pool counter from the period sums, in one
// transaction. Repair tool for counter drift.
func (s *Store) RecomputeSpent(ctx context.Context, poolID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE pool_periods
		 SET spent_cents = COALESCE((SELECT SUM(t.amount_cents) FROM pool_transactions t WHERE t.period_id = pool_periods.id), 0)
		 WHERE pool_id = ?`, poolID)
	if err != nil {
		return fmt.Errorf("recompute period spent: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE pools
		 SET spent_cents = COALESCE((SELECT SUM(p.spent_cents) FROM pool_periods p WHERE p.pool_id = pools.id), 0)
		 WHERE id = ?`, poolID)
	if err != nil {
		return fmt.Errorf("recompute pool spent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPool(row rowScanner) (*core.Pool, error) {
	var (
		p          core.Pool
		unit       string
		start, end string
		category   sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Total.Cents, &p.Spent.Cents,
		&unit, &p.Duration, &start, &end, &category, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Unit = core.PeriodUnit(unit)
	if p.StartDate, err = core.ParseDate(start); err != nil {
		return nil, fmt.Errorf("parse start date %q: %w", start, err)
	}
	if p.EndDate, err = core.ParseDate(end); err != nil {
		return nil, fmt.Errorf("parse end date %q: %w", end, err)
	}
	p.CategoryID = category.String
	return &p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
