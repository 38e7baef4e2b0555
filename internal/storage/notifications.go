package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"patungan/internal/core"
)

func (s *Store) InsertNotification(ctx context.Context, n *core.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt == 0 {
		n.CreatedAt = time.Now().Unix()
	}
	if n.Metadata == "" {
		n.Metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, title, message, priority, metadata, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		n.ID, n.UserID, n.Title, n.Message, n.Priority, n.Metadata, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns the user's notifications, newest first,
// capped at limit.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]core.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, message, priority, metadata, read, created_at
		 FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notes []core.Notification
	for rows.Next() {
		var n core.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Priority, &n.Metadata, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notes, nil
}

// MarkNotificationRead flips the read flag. Scoped to the owning user
// so one user cannot touch another's notifications.
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`,
		notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// UnconfirmedEndedPeriod is one (period, member) pair the reminder
// sweep still owes a nudge: the period has ended, the member has not
// confirmed, and no reminder was sent yet.
type UnconfirmedEndedPeriod struct {
	PeriodID string
	PoolID   string
	PoolName string
	Number   int
	EndDate  core.Date
	UserID   string
}

// ListUnconfirmedEndedPeriods returns the pairs due a reminder as of
// the given date.
func (s *Store) ListUnconfirmedEndedPeriods(ctx context.Context, today core.Date) ([]UnconfirmedEndedPeriod, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.pool_id, b.name, p.period_number, p.end_date, m.user_id
		 FROM pool_periods p
		 JOIN pools b ON b.id = p.pool_id
		 JOIN pool_members m ON m.pool_id = p.pool_id
		 LEFT JOIN pool_period_confirmations c ON c.period_id = p.id AND c.user_id = m.user_id
		 LEFT JOIN period_reminders r ON r.period_id = p.id AND r.user_id = m.user_id
		 WHERE p.end_date < ?
		   AND (c.confirmed_at IS NULL)
		   AND r.period_id IS NULL
		 ORDER BY p.end_date, p.id, m.user_id`, today.String())
	if err != nil {
		return nil, fmt.Errorf("list unconfirmed periods: %w", err)
	}
	defer rows.Close()

	var due []UnconfirmedEndedPeriod
	for rows.Next() {
		var (
			u   UnconfirmedEndedPeriod
			end string
		)
		if err := rows.Scan(&u.PeriodID, &u.PoolID, &u.PoolName, &u.Number, &end, &u.UserID); err != nil {
			return nil, fmt.Errorf("scan unconfirmed period: %w", err)
		}
		if u.EndDate, err = core.ParseDate(end); err != nil {
			return nil, fmt.Errorf("parse end date %q: %w", end, err)
		}
		due = append(due, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unconfirmed periods: %w", err)
	}
	return due, nil
}

// MarkReminded records that a reminder was sent so the sweep never
// nags the same (period, member) twice.
func (s *Store) MarkReminded(ctx context.Context, periodID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO period_reminders (period_id, user_id, reminded_at) VALUES (?, ?, ?)
		 ON CONFLICT(period_id, user_id) DO NOTHING`,
		periodID, userID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	return nil
}
