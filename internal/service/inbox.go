package service

import (
	"context"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/repository"
)

// maxInboxPage bounds one page of the inbox and the bulk mark-read sweep.
const maxInboxPage = 500

type notificationService struct {
	core *ledgerCore
}

func NewNotificationService(store repository.Store, publisher Publisher) NotificationService {
	return &notificationService{core: newLedgerCore(store, publisher)}
}

func (s *notificationService) List(ctx context.Context, recipientID int64, page, pageSize int) ([]domain.Notification, int, error) {
	if err := requireActor(recipientID); err != nil {
		return nil, 0, err
	}
	limit, offset := paginate(page, pageSize)
	return s.core.store.Notifications().ListByRecipient(ctx, recipientID, limit, offset)
}

func (s *notificationService) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	if err := requireActor(recipientID); err != nil {
		return 0, err
	}
	return s.core.store.Notifications().CountUnread(ctx, recipientID)
}

func (s *notificationService) MarkRead(ctx context.Context, recipientID, notificationID int64) (*domain.Notification, error) {
	if err := requireActor(recipientID); err != nil {
		return nil, err
	}
	var out *domain.Notification
	err := s.core.mutate(ctx, recipientID, func(m *mutation) error {
		n, err := m.tx.Notifications().GetByID(ctx, notificationID)
		if err != nil {
			return err
		}
		if n.RecipientID != recipientID {
			return domain.NotFoundf("notification %d not found", notificationID)
		}
		out = n
		if n.IsRead {
			return nil
		}
		prev := *n
		if err := m.tx.Notifications().MarkRead(ctx, n.ID, recipientID, m.now); err != nil {
			return err
		}
		readAt := m.now
		n.IsRead = true
		n.ReadAt = &readAt
		return m.emit(domain.EventUpsert, domain.TransitionNotificationRead, n, &prev)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkAllRead marks the recipient's unread notifications read and emits one
// event per notification so live inboxes update in place.
func (s *notificationService) MarkAllRead(ctx context.Context, recipientID int64) (int, error) {
	if err := requireActor(recipientID); err != nil {
		return 0, err
	}
	var marked int
	err := s.core.mutate(ctx, recipientID, func(m *mutation) error {
		items, _, err := m.tx.Notifications().ListByRecipient(ctx, recipientID, maxInboxPage, 0)
		if err != nil {
			return err
		}
		n, err := m.tx.Notifications().MarkAllRead(ctx, recipientID, m.now)
		if err != nil {
			return err
		}
		marked = int(n)
		for i := range items {
			item := &items[i]
			if item.IsRead {
				continue
			}
			prev := *item
			readAt := m.now
			item.IsRead = true
			item.ReadAt = &readAt
			if err := m.emit(domain.EventUpsert, domain.TransitionNotificationRead, item, &prev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}

func (s *notificationService) Delete(ctx context.Context, recipientID, notificationID int64) error {
	if err := requireActor(recipientID); err != nil {
		return err
	}
	return s.core.mutate(ctx, recipientID, func(m *mutation) error {
		n, err := m.tx.Notifications().GetByID(ctx, notificationID)
		if err != nil {
			return err
		}
		if n.RecipientID != recipientID {
			return domain.NotFoundf("notification %d not found", notificationID)
		}
		if err := m.tx.Notifications().Delete(ctx, n.ID, recipientID); err != nil {
			return err
		}
		return m.emit(domain.EventDelete, domain.TransitionNotificationDeleted, n, nil)
	})
}

func paginate(page, pageSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > maxInboxPage {
		pageSize = maxInboxPage
	}
	return pageSize, (page - 1) * pageSize
}
