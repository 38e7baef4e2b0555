package services

import (
	"context"
	"fmt"
	"log/slog"

	"patungan/internal/config"
	"patungan/internal/core"
	"patungan/internal/metrics"
	"patungan/internal/notify"
	"patungan/internal/storage"
)

// ConfirmationService records per-member contribution acknowledgments.
// The configured mode picks the write semantics: strict rejects a
// second confirm, toggle lets members flip their state freely.
type ConfirmationService struct {
	store     *storage.Store
	publisher notify.Publisher
	mode      string
}

func NewConfirmationService(store *storage.Store, publisher notify.Publisher, mode string) *ConfirmationService {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	if mode == "" {
		mode = config.ConfirmToggle
	}
	return &ConfirmationService{store: store, publisher: publisher, mode: mode}
}

type ConfirmInput struct {
	// Confirmed is only honored in toggle mode; strict mode always
	// confirms.
	Confirmed *bool `json:"confirmed"`
}

// Confirm records the caller's acknowledgment for the period. The
// returned confirmation carries a nil timestamp when toggled off.
func (s *ConfirmationService) Confirm(ctx context.Context, userID, poolID, periodID string, in ConfirmInput) (*core.Confirmation, error) {
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

	conf := &core.Confirmation{PeriodID: periodID, UserID: userID}

	if s.mode == config.ConfirmStrict {
		stamp, err := s.store.Confirm(ctx, periodID, userID)
		if err != nil {
			return nil, err
		}
		conf.ConfirmedAt = &stamp
	} else {
		confirmed := true
		if in.Confirmed != nil {
			confirmed = *in.Confirmed
		}
		stamp, err := s.store.SetConfirmed(ctx, periodID, userID, confirmed)
		if err != nil {
			return nil, err
		}
		conf.ConfirmedAt = stamp
	}

	if conf.ConfirmedAt != nil {
		s.notifyConfirmed(ctx, userID, period)
	}
	return conf, nil
}

// Roster returns every pool member with their confirmation state for
// the period.
func (s *ConfirmationService) Roster(ctx context.Context, userID, poolID, periodID string) ([]core.RosterEntry, error) {
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
	return s.store.Roster(ctx, periodID)
}

func (s *ConfirmationService) notifyConfirmed(ctx context.Context, userID string, period *core.Period) {
	pool, err := s.store.GetPool(ctx, period.PoolID)
	if err != nil {
		return
	}
	if pool.CreatedBy == userID {
		return
	}
	msg := notify.NewMessage(
		notify.KindConfirm, pool.CreatedBy,
		"Contribution confirmed",
		fmt.Sprintf("%s confirmed their contribution for %q period %d", userID, pool.Name, period.Number),
		"normal",
	).
		WithMeta("groupBudgetId", period.PoolID).
		WithMeta("periodId", period.ID)
	if err := s.publisher.Publish(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish notification",
			"kind", msg.Kind, "error", err)
		return
	}
	metrics.NotificationsPublished.WithLabelValues(notify.KindConfirm).Inc()
}
