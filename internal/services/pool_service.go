// Package services orchestrates pool operations across SQLite and the
// notification bus. Every operation authorizes against the caller's
// membership before touching data; publishing is best effort and never
// fails the request.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"patungan/internal/core"
	"patungan/internal/metrics"
	"patungan/internal/notify"
	"patungan/internal/storage"
)

type PoolService struct {
	store     *storage.Store
	publisher notify.Publisher
}

func NewPoolService(store *storage.Store, publisher notify.Publisher) *PoolService {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &PoolService{store: store, publisher: publisher}
}

// CreatePoolInput is the creation request. EndDate is optional; when
// absent it is derived as the last period's end.
type CreatePoolInput struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Amount       string          `json:"amount"`
	Period       core.PeriodUnit `json:"period"`
	Duration     int             `json:"duration"`
	StartDate    core.Date       `json:"startDate"`
	EndDate      core.Date       `json:"endDate"`
	CategoryID   string          `json:"categoryId"`
	InviteEmails []string        `json:"invitedEmails"`
}

// Create validates the input, derives the period schedule and persists
// pool, owner membership, periods and initial invitations atomically.
func (s *PoolService) Create(ctx context.Context, userID string, in CreatePoolInput) (*core.Pool, []core.Period, error) {
	total, err := core.ParseAmount(in.Amount)
	if err != nil {
		return nil, nil, err
	}

	pool := &core.Pool{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Total:       total,
		Unit:        in.Period,
		Duration:    in.Duration,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		CategoryID:  in.CategoryID,
		CreatedBy:   userID,
	}
	if err := pool.Validate(); err != nil {
		return nil, nil, err
	}

	windows, err := core.BuildPeriods(pool.StartDate, pool.Unit, pool.Duration, pool.Total)
	if err != nil {
		return nil, nil, err
	}
	if pool.EndDate.IsZero() {
		pool.EndDate = windows[len(windows)-1].EndDate
	}

	var invitations []core.Invitation
	seen := make(map[string]bool)
	for _, email := range in.InviteEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" || seen[email] {
			continue
		}
		if !core.ValidEmail(email) {
			return nil, nil, fmt.Errorf("%w: %s", core.ErrInvalidEmail, email)
		}
		seen[email] = true
		invitations = append(invitations, core.Invitation{Email: email, InvitedBy: userID})
	}

	periods, err := s.store.CreatePool(ctx, pool, windows, invitations)
	if err != nil {
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}

	for _, inv := range invitations {
		s.publish(ctx, notify.NewMessage(
			notify.KindInvite, inv.Email,
			"You have been invited to a shared budget",
			fmt.Sprintf("%s invited you to %q", userID, pool.Name),
			"normal",
		).WithMeta("groupBudgetId", pool.ID).WithMeta("invitationId", inv.ID))
	}

	return pool, periods, nil
}

// Get returns the pool with its periods, transactions and
// confirmations. Non-members get ErrNotFound rather than ErrForbidden
// so pool ids are not probeable.
func (s *PoolService) Get(ctx context.Context, userID, poolID string) (*core.Pool, []core.Period, error) {
	if _, err := s.store.GetMember(ctx, poolID, userID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil, core.ErrNotFound
		}
		return nil, nil, err
	}
	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, nil, err
	}
	periods, err := s.store.ListPeriodsDetailed(ctx, poolID)
	if err != nil {
		return nil, nil, err
	}
	return pool, periods, nil
}

func (s *PoolService) List(ctx context.Context, userID string) ([]core.Pool, error) {
	return s.store.ListPoolsForUser(ctx, userID)
}

// ListPeriods returns a pool's periods with nested transactions and
// confirmations, visible to members only.
func (s *PoolService) ListPeriods(ctx context.Context, userID, poolID string) ([]core.Period, error) {
	if _, err := s.store.GetMember(ctx, poolID, userID); err != nil {
		return nil, err
	}
	return s.store.ListPeriodsDetailed(ctx, poolID)
}

// GetPeriod returns one period with nested transactions and
// confirmations. Visibility follows the parent pool's membership.
func (s *PoolService) GetPeriod(ctx context.Context, userID, poolID, periodID string) (*core.Period, error) {
	if _, err := s.store.GetMember(ctx, poolID, userID); err != nil {
		return nil, err
	}
	period, err := s.store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if period.PoolID != poolID {
		return nil, core.ErrNotFound
	}
	if period.Transactions, err = s.store.ListTransactions(ctx, periodID); err != nil {
		return nil, err
	}
	if period.Confirmations, err = s.store.ListConfirmations(ctx, periodID); err != nil {
		return nil, err
	}
	return period, nil
}

// UpdatePoolInput carries the mutable fields. Schedule and amounts are
// immutable after creation.
type UpdatePoolInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CategoryID  string `json:"categoryId"`
}

// Update changes name, description or category. Owners and admins only.
func (s *PoolService) Update(ctx context.Context, userID, poolID string, in UpdatePoolInput) (*core.Pool, error) {
	if err := s.requireRole(ctx, poolID, userID, core.RoleOwner, core.RoleAdmin); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, core.ErrEmptyName
	}
	if err := s.store.UpdatePool(ctx, poolID, name, strings.TrimSpace(in.Description), in.CategoryID); err != nil {
		return nil, err
	}
	return s.store.GetPool(ctx, poolID)
}

// Delete removes the pool and everything under it. Owner only.
func (s *PoolService) Delete(ctx context.Context, userID, poolID string) error {
	if err := s.requireRole(ctx, poolID, userID, core.RoleOwner); err != nil {
		return err
	}
	return s.store.DeletePool(ctx, poolID)
}

// Recompute rebuilds the spent counters from the transaction log.
// Owner only.
func (s *PoolService) Recompute(ctx context.Context, userID, poolID string) (*core.Pool, error) {
	if err := s.requireRole(ctx, poolID, userID, core.RoleOwner); err != nil {
		return nil, err
	}
	if err := s.store.RecomputeSpent(ctx, poolID); err != nil {
		return nil, err
	}
	return s.store.GetPool(ctx, poolID)
}

// requireRole resolves the caller's membership and checks it against
// the allowed roles. A non-member gets ErrNotFound; a member with the
// wrong role gets ErrForbidden.
func (s *PoolService) requireRole(ctx context.Context, poolID, userID string, roles ...core.Role) error {
	m, err := s.store.GetMember(ctx, poolID, userID)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if m.Role == r {
			return nil
		}
	}
	return core.ErrForbidden
}

func (s *PoolService) publish(ctx context.Context, msg *notify.Message) {
	if err := s.publisher.Publish(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish notification",
			"kind", msg.Kind, "error", err)
		return
	}
	metrics.NotificationsPublished.WithLabelValues(msg.Kind).Inc()
}
