// Package notify delivers notification records into a target user's partition and gives
// the owner read/delete control over them.
package notify

import (
	"context"
	"time"

	"researchhub/backend/internal/metrics"
	"researchhub/backend/internal/models"
	"researchhub/backend/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Fanout writes notifications into notifications:<userId>, most recent first.
// Delivery does not deduplicate: the same event delivered twice is two records.
type Fanout struct {
	parts   *store.Partitions
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// NewFanout creates a Fanout.
func NewFanout(parts *store.Partitions, collector *metrics.Collector, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		parts:   parts,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Deliver prepends n to the target's list. A missing id or timestamp is generated and the
// record always arrives unread.
func (f *Fanout) Deliver(ctx context.Context, targetUserID string, n models.Notification) (models.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = f.now().UTC()
	}
	n.Read = false

	_, err := store.UpdateList(ctx, f.parts, store.NotificationsKey(targetUserID), func(items []models.Notification) ([]models.Notification, error) {
		return append([]models.Notification{n}, items...), nil
	})
	if err != nil {
		f.logger.Warn("Failed to deliver notification",
			zap.String("target_user_id", targetUserID),
			zap.String("type", string(n.Type)),
			zap.Error(err),
		)
		return models.Notification{}, err
	}

	f.metrics.NotificationDelivered(string(n.Type))
	return n, nil
}

// List returns the owner's notifications, most recent first.
func (f *Fanout) List(ctx context.Context, owner string) ([]models.Notification, error) {
	return store.LoadList[models.Notification](ctx, f.parts, store.NotificationsKey(owner))
}

// UnreadCount counts the owner's unread notifications.
func (f *Fanout) UnreadCount(ctx context.Context, owner string) (int, error) {
	items, err := f.List(ctx, owner)
	if err != nil {
		return 0, err
	}
	return CountUnread(items), nil
}

// MarkRead flags one notification as read. Unknown ids are a no-op.
func (f *Fanout) MarkRead(ctx context.Context, owner, notificationID string) error {
	return f.update(ctx, owner, func(items []models.Notification) ([]models.Notification, error) {
		for i := range items {
			if items[i].ID == notificationID {
				if items[i].Read {
					return nil, store.ErrUnchanged
				}
				items[i].Read = true
				return items, nil
			}
		}
		return nil, store.ErrUnchanged
	})
}

// MarkAllRead flags every notification as read.
func (f *Fanout) MarkAllRead(ctx context.Context, owner string) error {
	return f.update(ctx, owner, func(items []models.Notification) ([]models.Notification, error) {
		changed := false
		for i := range items {
			if !items[i].Read {
				items[i].Read = true
				changed = true
			}
		}
		if !changed {
			return nil, store.ErrUnchanged
		}
		return items, nil
	})
}

// Delete removes one notification. Unknown ids are a no-op.
func (f *Fanout) Delete(ctx context.Context, owner, notificationID string) error {
	return f.update(ctx, owner, func(items []models.Notification) ([]models.Notification, error) {
		kept := items[:0]
		for _, n := range items {
			if n.ID != notificationID {
				kept = append(kept, n)
			}
		}
		if len(kept) == len(items) {
			return nil, store.ErrUnchanged
		}
		return kept, nil
	})
}

// ClearAll removes every notification.
func (f *Fanout) ClearAll(ctx context.Context, owner string) error {
	return f.update(ctx, owner, func(items []models.Notification) ([]models.Notification, error) {
		if len(items) == 0 {
			return nil, store.ErrUnchanged
		}
		return []models.Notification{}, nil
	})
}

func (f *Fanout) update(ctx context.Context, owner string, fn func([]models.Notification) ([]models.Notification, error)) error {
	_, err := store.UpdateList(ctx, f.parts, store.NotificationsKey(owner), fn)
	return err
}

// CountUnread counts unread records in items.
func CountUnread(items []models.Notification) int {
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	return unread
}
