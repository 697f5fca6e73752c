package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyLastSyncTime to kursor pull-a.
const KeyLastSyncTime = "last_sync_time"

// GetSetting zwraca (value, found, err); brak klucza nie jest błędem.
func (h *Handle) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var s Setting
	err := h.DB.WithContext(ctx).Where(&Setting{Key: key}).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Value, true, nil
}

func (h *Handle) SetSetting(ctx context.Context, key, value string) error {
	return h.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "last_synced"}),
	}).Create(&Setting{Key: key, Value: value, LastSynced: time.Now()}).Error
}

// Settings zwraca wszystkie ustawienia jako mapę.
func (h *Handle) Settings(ctx context.Context) (map[string]string, error) {
	var rows []Setting
	if err := h.DB.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// GetLastSyncTime: ok == false przy pierwszym uruchomieniu (pełny pull).
func (h *Handle) GetLastSyncTime(ctx context.Context) (time.Time, bool, error) {
	v, ok, err := h.GetSetting(ctx, KeyLastSyncTime)
	if err != nil || !ok || v == "" {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s=%q: %w", KeyLastSyncTime, v, err)
	}
	return t, true, nil
}

func (h *Handle) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return h.SetSetting(ctx, KeyLastSyncTime, t.UTC().Format(time.RFC3339Nano))
}
