package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"patungan/internal/config"
	"patungan/internal/core"
	"patungan/internal/metrics"
	"patungan/internal/notify"
	"patungan/internal/storage"
)

// InvitationService runs the invite/accept/decline lifecycle. The
// configured retention decides whether accepted invitations keep their
// row as an audit record or are removed.
type InvitationService struct {
	store     *storage.Store
	publisher notify.Publisher
	retention string
}

func NewInvitationService(store *storage.Store, publisher notify.Publisher, retention string) *InvitationService {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	if retention == "" {
		retention = config.InviteKeep
	}
	return &InvitationService{store: store, publisher: publisher, retention: retention}
}

type InviteInput struct {
	Email string `json:"email"`
}

// Invite adds a pending invitation. Owners and admins only.
func (s *InvitationService) Invite(ctx context.Context, userID, poolID string, in InviteInput) (*core.Invitation, error) {
	m, err := s.store.GetMember(ctx, poolID, userID)
	if err != nil {
		return nil, err
	}
	if m.Role != core.RoleOwner && m.Role != core.RoleAdmin {
		return nil, core.ErrForbidden
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !core.ValidEmail(email) {
		return nil, core.ErrInvalidEmail
	}

	inv := &core.Invitation{PoolID: poolID, Email: email, InvitedBy: userID}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}

	if pool, err := s.store.GetPool(ctx, poolID); err == nil {
		s.publish(ctx, notify.NewMessage(
			notify.KindInvite, email,
			"You have been invited to a shared budget",
			fmt.Sprintf("%s invited you to %q", userID, pool.Name),
			"normal",
		).WithMeta("groupBudgetId", poolID).WithMeta("invitationId", inv.ID))
	}

	return inv, nil
}

// List returns a pool's invitations, visible to any member.
func (s *InvitationService) List(ctx context.Context, userID, poolID string) ([]core.Invitation, error) {
	if _, err := s.store.GetMember(ctx, poolID, userID); err != nil {
		return nil, err
	}
	return s.store.ListInvitations(ctx, poolID)
}

// ListPendingForUser returns the caller's open invitations across all
// pools, matched by the email in their token.
func (s *InvitationService) ListPendingForUser(ctx context.Context, email string) ([]core.Invitation, error) {
	return s.store.ListPendingByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// Accept joins the caller to the pool. The invitation must be pending
// and addressed to the caller's email.
func (s *InvitationService) Accept(ctx context.Context, userID, email, invitationID string) (*core.Member, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(inv.Email, email) {
		return nil, core.ErrEmailMismatch
	}

	member, err := s.store.AcceptInvitation(ctx, invitationID, userID, s.retention == config.InviteKeep)
	if err != nil {
		return nil, err
	}

	if pool, perr := s.store.GetPool(ctx, inv.PoolID); perr == nil {
		s.publish(ctx, notify.NewMessage(
			notify.KindAccepted, inv.InvitedBy,
			"Invitation accepted",
			fmt.Sprintf("%s joined %q", userID, pool.Name),
			"normal",
		).WithMeta("groupBudgetId", inv.PoolID))
	}

	return member, nil
}

// Decline marks the invitation declined. The invitation must be
// pending and addressed to the caller's email.
func (s *InvitationService) Decline(ctx context.Context, email, invitationID string) error {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(inv.Email, email) {
		return core.ErrEmailMismatch
	}
	if err := s.store.DeclineInvitation(ctx, invitationID); err != nil {
		// the row can resolve between the read and the write
		if errors.Is(err, core.ErrNotFound) {
			return core.ErrInviteResolved
		}
		return err
	}
	return nil
}

func (s *InvitationService) publish(ctx context.Context, msg *notify.Message) {
	if err := s.publisher.Publish(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish notification",
			"kind", msg.Kind, "error", err)
		return
	}
	metrics.NotificationsPublished.WithLabelValues(msg.Kind).Inc()
}
