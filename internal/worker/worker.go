// Package worker delivers notifications: it consumes bus messages into
// the in-app store, optionally pushes them to Telegram, and runs the
// periodic confirmation reminder sweep.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"patungan/internal/core"
	"patungan/internal/metrics"
	"patungan/internal/notify"
	"patungan/internal/storage"
)

// Pusher is an optional external delivery channel.
type Pusher interface {
	Send(title, body string) error
}

type Worker struct {
	store     *storage.Store
	publisher notify.Publisher
	pusher    Pusher
}

func New(store *storage.Store, publisher notify.Publisher, pusher Pusher) *Worker {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Worker{store: store, publisher: publisher, pusher: pusher}
}

// HandleMessage persists one bus message as an in-app notification and
// pushes it to the external channel when one is configured. A failed
// store write is returned so the delivery is retried; a failed push is
// only logged, the in-app copy already exists.
//
// Invitation messages are addressed by email and have no account to
// attach an in-app row to; invitees find their pending invitations
// through the invitations endpoint, so those messages go to the push
// channel only.
func (w *Worker) HandleMessage(ctx context.Context, msg *notify.Message) error {
	if msg.Kind == notify.KindInvite {
		w.push(ctx, msg)
		metrics.NotificationsDelivered.WithLabelValues("pushed").Inc()
		return nil
	}

	metadata := "{}"
	if len(msg.Metadata) > 0 {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = string(b)
	}

	n := &core.Notification{
		UserID:    msg.UserID,
		Title:     msg.Title,
		Message:   msg.Body,
		Priority:  msg.Priority,
		Metadata:  metadata,
		CreatedAt: msg.Timestamp.Unix(),
	}
	if err := w.store.InsertNotification(ctx, n); err != nil {
		metrics.NotificationsDelivered.WithLabelValues("store_error").Inc()
		return fmt.Errorf("insert notification: %w", err)
	}

	w.push(ctx, msg)

	metrics.NotificationsDelivered.WithLabelValues("delivered").Inc()
	slog.InfoContext(ctx, "Notification delivered",
		"kind", msg.Kind, "user_id", msg.UserID, "notification_id", n.ID)
	return nil
}

func (w *Worker) push(ctx context.Context, msg *notify.Message) {
	if w.pusher == nil {
		return
	}
	if err := w.pusher.Send(msg.Title, msg.Body); err != nil {
		slog.ErrorContext(ctx, "Failed to push notification",
			"kind", msg.Kind, "user_id", msg.UserID, "error", err)
	}
}

// SweepReminders publishes a confirmation reminder for every member
// who has not confirmed an already-ended period. The period_reminders
// marker makes each (period, member) pair fire at most once.
func (w *Worker) SweepReminders(ctx context.Context, today core.Date) error {
	due, err := w.store.ListUnconfirmedEndedPeriods(ctx, today)
	if err != nil {
		return fmt.Errorf("list due reminders: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Sweeping confirmation reminders", "due", len(due))

	for _, d := range due {
		msg := notify.NewMessage(
			notify.KindReminder, d.UserID,
			"Contribution confirmation pending",
			fmt.Sprintf("Period %d of %q ended on %s and your contribution is still unconfirmed",
				d.Number, d.PoolName, d.EndDate),
			"normal",
		).
			WithMeta("groupBudgetId", d.PoolID).
			WithMeta("periodId", d.PeriodID)
		if err := w.publisher.Publish(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to publish reminder",
				"period_id", d.PeriodID, "user_id", d.UserID, "error", err)
			continue
		}
		metrics.NotificationsPublished.WithLabelValues(notify.KindReminder).Inc()
		if err := w.store.MarkReminded(ctx, d.PeriodID, d.UserID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark reminder sent",
				"period_id", d.PeriodID, "user_id", d.UserID, "error", err)
		}
	}
	return nil
}

// RunReminderLoop sweeps on the given interval until ctx is cancelled.
// One sweep runs immediately on start to catch up after downtime.
func (w *Worker) RunReminderLoop(ctx context.Context, interval time.Duration) error {
	if err := w.SweepReminders(ctx, core.Date{Time: time.Now().UTC()}); err != nil {
		slog.ErrorContext(ctx, "Reminder sweep failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.SweepReminders(ctx, core.Date{Time: time.Now().UTC()}); err != nil {
				slog.ErrorContext(ctx, "Reminder sweep failed", "error", err)
			}
		}
	}
}
