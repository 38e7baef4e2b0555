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

// CreateInvitation adds a pending invitation for the email. A pending
// invitation for the same email is a duplicate, an accepted one means
// the email already joined, and a declined one is replaced with a
// fresh pending row so the person can be re-invited.
func (s *Store) CreateInvitation(ctx context.Context, inv *core.Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.InvitedAt == 0 {
		inv.InvitedAt = time.Now().Unix()
	}
	inv.Status = core.InvitePending
	inv.RespondedAt = nil

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM pool_invitations WHERE pool_id = ? AND email = ?`,
		inv.PoolID, inv.Email).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first invitation for this email
	case err != nil:
		return fmt.Errorf("look up invitation: %w", err)
	case existing == string(core.InvitePending):
		return core.ErrDuplicateInvite
	case existing == string(core.InviteAccepted):
		return core.ErrAlreadyMember
	default:
		// declined: drop the stale row, the insert below replaces it
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pool_invitations WHERE pool_id = ? AND email = ?`,
			inv.PoolID, inv.Email); err != nil {
			return fmt.Errorf("replace declined invitation: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pool_invitations (id, pool_id, email, invited_by, status, invited_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.PoolID, inv.Email, inv.InvitedBy, string(inv.Status), inv.InvitedAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetInvitation(ctx context.Context, invitationID string) (*core.Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pool_id, email, invited_by, status, invited_at, responded_at
		 FROM pool_invitations WHERE id = ?`, invitationID)
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations returns a pool's invitations, newest first.
func (s *Store) ListInvitations(ctx context.Context, poolID string) ([]core.Invitation, error) {
	return s.listInvitations(ctx,
		`SELECT id, pool_id, email, invited_by, status, invited_at, responded_at
		 FROM pool_invitations WHERE pool_id = ? ORDER BY invited_at DESC, id`, poolID)
}

// ListPendingByEmail returns the open invitations addressed to the
// email across all pools.
func (s *Store) ListPendingByEmail(ctx context.Context, email string) ([]core.Invitation, error) {
	return s.listInvitations(ctx,
		`SELECT id, pool_id, email, invited_by, status, invited_at, responded_at
		 FROM pool_invitations WHERE email = ? AND status = 'pending' ORDER BY invited_at DESC, id`, email)
}

func (s *Store) listInvitations(ctx context.Context, query string, arg any) ([]core.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var invs []core.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invs = append(invs, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return invs, nil
}

// AcceptInvitation marks the invitation accepted and inserts the
// membership in one transaction. Only pending invitations can be
// accepted; a resolved one fails with ErrInviteResolved and an accept
// by someone who already belongs to the pool fails with
// ErrAlreadyMember. When keepRow is false the invitation row is removed
// instead of being kept as an audit record.
func (s *Store) AcceptInvitation(ctx context.Context, invitationID, userID string, keepRow bool) (*core.Member, error) {
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var poolID, status string
	err = tx.QueryRowContext(ctx,
		`SELECT pool_id, status FROM pool_invitations WHERE id = ?`,
		invitationID).Scan(&poolID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("look up invitation: %w", err)
	}
	if status != string(core.InvitePending) {
		return nil, core.ErrInviteResolved
	}

	// With delete retention an accepted invitation leaves no row behind,
	// so the same email can be invited again. The membership itself is
	// the source of truth here.
	var joined int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM pool_members WHERE pool_id = ? AND user_id = ?`,
		poolID, userID).Scan(&joined)
	if err == nil {
		return nil, core.ErrAlreadyMember
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("look up membership: %w", err)
	}

	if keepRow {
		_, err = tx.ExecContext(ctx,
			`UPDATE pool_invitations SET status = 'accepted', responded_at = ? WHERE id = ?`,
			now, invitationID)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM pool_invitations WHERE id = ?`, invitationID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve invitation: %w", err)
	}

	m := &core.Member{PoolID: poolID, UserID: userID, Role: core.RoleMember, JoinedAt: now}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO pool_members (pool_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		m.PoolID, m.UserID, string(m.Role), m.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("insert membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return m, nil
}

// DeclineInvitation marks a pending invitation declined.
func (s *Store) DeclineInvitation(ctx context.Context, invitationID string) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pool_invitations SET status = 'declined', responded_at = ? WHERE id = ? AND status = 'pending'`,
		now, invitationID)
	if err != nil {
		return fmt.Errorf("decline invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.resolveInviteMiss(ctx, invitationID)
	}
	return nil
}

// resolveInviteMiss distinguishes a missing invitation from one that
// was already responded to.
func (s *Store) resolveInviteMiss(ctx context.Context, invitationID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM pool_invitations WHERE id = ?`, invitationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("look up invitation: %w", err)
	}
	return core.ErrInviteResolved
}

func scanInvitation(row rowScanner) (*core.Invitation, error) {
	var (
		inv         core.Invitation
		status      string
		respondedAt sql.NullInt64
	)
	err := row.Scan(&inv.ID, &inv.PoolID, &inv.Email, &inv.InvitedBy, &status, &inv.InvitedAt, &respondedAt)
	if err != nil {
		return nil, err
	}
	inv.Status = core.InviteStatus(status)
	if respondedAt.Valid {
		inv.RespondedAt = &respondedAt.Int64
	}
	return &inv, nil
}
