package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"patungan/internal/core"
	"patungan/internal/metrics"
	"patungan/internal/notify"
	"patungan/internal/storage"
)

type TransactionService struct {
	store     *storage.Store
	publisher notify.Publisher
}

func NewTransactionService(store *storage.Store, publisher notify.Publisher) *TransactionService {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &TransactionService{store: store, publisher: publisher}
}

type PostTransactionInput struct {
	GroupBudgetID string      `json:"groupBudgetId"`
	PeriodID      string      `json:"periodId"`
	Amount        string      `json:"amount"`
	Description   string      `json:"description"`
	Type          core.TxType `json:"type"`
	Date          core.Date   `json:"date"`
}

// PostResult is the posted transaction plus its lateness
// classification against the period window.
type PostResult struct {
	Transaction core.Transaction `json:"transaction"`
	IsLate      bool             `json:"isLate"`
	DaysLate    int              `json:"daysLate,omitempty"`
	Warning     string           `json:"warning,omitempty"`
}

// Post records a contribution to a period of the pool. Any member may
// post. The transaction date may fall outside the period window; a
// late post is accepted and flagged, and the pool owner is notified.
func (s *TransactionService) Post(ctx context.Context, userID string, in PostTransactionInput) (*PostResult, error) {
	if _, err := s.store.GetMember(ctx, in.GroupBudgetID, userID); err != nil {
		return nil, err
	}

	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	tx := core.Transaction{
		PoolID:      in.GroupBudgetID,
		PeriodID:    in.PeriodID,
		Amount:      amount,
		Description: strings.TrimSpace(in.Description),
		Type:        in.Type,
		Date:        in.Date,
		CreatedBy:   userID,
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	period, err := s.store.GetPeriod(ctx, in.PeriodID)
	if err != nil {
		return nil, err
	}
	if period.PoolID != in.GroupBudgetID {
		return nil, core.ErrNotFound
	}

	if err := s.store.PostTransaction(ctx, &tx); err != nil {
		return nil, err
	}

	res := &PostResult{Transaction: tx}
	if days := core.DaysLate(tx.Date, period.EndDate); days > 0 {
		res.IsLate = true
		res.DaysLate = days
		res.Warning = fmt.Sprintf("contribution is %d day(s) past the period end %s", days, period.EndDate)
		s.notifyLate(ctx, &tx, period, days)
	}
	metrics.TransactionsPosted.WithLabelValues(strconv.FormatBool(res.IsLate)).Inc()

	return res, nil
}

// List returns the period's transactions, visible to any pool member.
func (s *TransactionService) List(ctx context.Context, userID, poolID, periodID string) ([]core.Transaction, error) {
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
	return s.store.ListTransactions(ctx, periodID)
}

func (s *TransactionService) notifyLate(ctx context.Context, tx *core.Transaction, period *core.Period, days int) {
	pool, err := s.store.GetPool(ctx, tx.PoolID)
	if err != nil {
		return
	}
	msg := notify.NewMessage(
		notify.KindLate, pool.CreatedBy,
		"Late contribution recorded",
		fmt.Sprintf("%s posted %s to %q period %d, %d day(s) after it ended",
			tx.CreatedBy, tx.Amount, pool.Name, period.Number, days),
		"high",
	).
		WithMeta("groupBudgetId", tx.PoolID).
		WithMeta("periodId", tx.PeriodID).
		WithMeta("transactionId", tx.ID).
		WithMeta("daysLate", strconv.Itoa(days))
	if err := s.publisher.Publish(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish notification",
			"kind", msg.Kind, "error", err)
		return
	}
	metrics.NotificationsPublished.WithLabelValues(notify.KindLate).Inc()
}
