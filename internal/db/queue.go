package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// enqueue dopisuje wpis kolejki w tej samej transakcji co zmiana encji.
// payload jest serializowany od razu, późniejsze edycje go nie zmieniają.
func enqueue(tx *gorm.DB, kind Kind, action Action, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s/%s payload: %w", kind, action, err)
	}
	item := SyncQueueItem{
		Type:   kind,
		Action: action,
		Data:   string(raw),
		Status: QueuePending,
	}
	if err := tx.Create(&item).Error; err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", kind, action, err)
	}
	return nil
}

// GetPendingQueueItems zwraca wpisy pending w kolejności wstawiania.
func (h *Handle) GetPendingQueueItems(ctx context.Context) ([]SyncQueueItem, error) {
	var items []SyncQueueItem
	if err := h.DB.WithContext(ctx).
		Where("status = ?", QueuePending).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("read sync queue: %w", err)
	}
	return items, nil
}

// GetQueueItem zwraca (nil, nil) gdy wpisu nie ma.
func (h *Handle) GetQueueItem(ctx context.Context, id uint) (*SyncQueueItem, error) {
	var item SyncQueueItem
	err := h.DB.WithContext(ctx).Where("id = ?", id).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListQueue zwraca wpisy o danym statusie (pusty status = wszystkie).
func (h *Handle) ListQueue(ctx context.Context, status string) ([]SyncQueueItem, error) {
	q := h.DB.WithContext(ctx).Order("id ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var items []SyncQueueItem
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// CountQueue liczy wpisy w podanych statusach.
func (h *Handle) CountQueue(ctx context.Context, statuses ...string) (int64, error) {
	q := h.DB.WithContext(ctx).Model(&SyncQueueItem{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (h *Handle) MarkQueueItemSynced(ctx context.Context, id uint) error {
	now := time.Now()
	return h.DB.WithContext(ctx).Model(&SyncQueueItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       QueueSynced,
			"last_attempt": now,
			"error":        "",
		}).Error
}

// MarkQueueItemError zostawia wpis w kolejce ze statusem error i zwiększa attempts.
func (h *Handle) MarkQueueItemError(ctx context.Context, id uint, message string) error {
	now := time.Now()
	return h.DB.WithContext(ctx).Model(&SyncQueueItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       QueueError,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_attempt": now,
			"error":        message,
		}).Error
}

// PurgeSyncedQueueItems usuwa wpisy synced. Wołać dopiero po zakończeniu wszystkich batchy.
func (h *Handle) PurgeSyncedQueueItems(ctx context.Context) (int64, error) {
	res := h.DB.WithContext(ctx).
		Where("status = ?", QueueSynced).
		Delete(&SyncQueueItem{})
	return res.RowsAffected, res.Error
}

// RequeueErrored przestawia wpisy error z powrotem na pending.
// eligible == nil oznacza wszystkie.
func (h *Handle) RequeueErrored(ctx context.Context, eligible func(SyncQueueItem) bool) (int, error) {
	var failed []SyncQueueItem
	if err := h.DB.WithContext(ctx).
		Where("status = ?", QueueError).
		Order("id ASC").
		Find(&failed).Error; err != nil {
		return 0, err
	}

	ids := make([]uint, 0, len(failed))
	for _, it := range failed {
		if eligible == nil || eligible(it) {
			ids = append(ids, it.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := h.DB.WithContext(ctx).Model(&SyncQueueItem{}).
		Where("id IN ?", ids).
		Update("status", QueuePending).Error; err != nil {
		return 0, err
	}
	return len(ids), nil
}
