package services

import (
	"context"

	"patungan/internal/core"
	"patungan/internal/storage"
)

// NotificationService reads the in-app notification store. Writes go
// through the worker, never through the API.
type NotificationService struct {
	store *storage.Store
}

func NewNotificationService(store *storage.Store) *NotificationService {
	return &NotificationService{store: store}
}

func (s *NotificationService) List(ctx context.Context, userID string, limit int) ([]core.Notification, error) {
	return s.store.ListNotifications(ctx, userID, limit)
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.store.MarkNotificationRead(ctx, notificationID, userID)
}
