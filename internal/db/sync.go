package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatch = 200

// kolumny nadpisywane przy pull-u; created_at zostaje z pierwszego zapisu
var upsertColumns = map[Kind][]string{
	KindProduct:  {"barcode", "sku", "name", "category_id", "price", "stock", "source", "updated_at"},
	KindCategory: {"name", "color", "source", "updated_at"},
	KindUser:     {"username", "name", "role", "email", "pin", "updated_at", "last_synced"},
	KindCustomer: {"customer_id", "member_id", "name", "last_name", "email", "phone", "cell",
		"customer_code", "nationality", "is_active", "is_member", "source", "updated_at"},
}

// UpsertMany zapisuje rekordy ściągnięte ze zdalnego magazynu (insert albo update po id).
// Nie dopisuje nic do kolejki. records musi być slicem pasującym do kind.
func (h *Handle) UpsertMany(ctx context.Context, kind Kind, records any) (int, error) {
	var n int
	var want Kind
	switch v := records.(type) {
	case []Product:
		want, n = KindProduct, len(v)
		for i := range v {
			v[i].Source = "remote"
		}
	case []Category:
		want, n = KindCategory, len(v)
		for i := range v {
			v[i].Source = "remote"
		}
	case []User:
		want, n = KindUser, len(v)
		now := time.Now()
		for i := range v {
			v[i].LastSynced = &now
		}
	case []Customer:
		want, n = KindCustomer, len(v)
		for i := range v {
			v[i].Source = "remote"
		}
	}
	if want == "" || want != kind {
		return 0, fmt.Errorf("upsert %s (%T): %w", kind, records, ErrUnknownKind)
	}
	if n == 0 {
		return 0, nil
	}

	err := h.inTx(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns[kind]),
		}).CreateInBatches(records, upsertBatch).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", kind, err)
	}
	return n, nil
}

// modelFor: encje z lokalnym id liczbowym i osobnym RemoteID
func modelFor(kind Kind) (any, error) {
	switch kind {
	case KindOrder:
		return &Order{}, nil
	case KindTicket:
		return &Ticket{}, nil
	case KindPayment:
		return &Payment{}, nil
	case KindSession:
		return &Session{}, nil
	}
	return nil, fmt.Errorf("%s has no remote id column: %w", kind, ErrUnknownKind)
}

// HasRemoteIDColumn mówi, czy encja trzyma zdalne id osobno od lokalnego.
func HasRemoteIDColumn(kind Kind) bool {
	_, err := modelFor(kind)
	return err == nil
}

// RecordRemoteID zapisuje zdalne id (back-fill po create). Encja dostaje synced tylko
// gdy poza wpisem queueID nie ma dla niej innych wpisów pending/error.
// Brak wiersza (np. ticket usunięty w międzyczasie) nie jest błędem.
func (h *Handle) RecordRemoteID(ctx context.Context, kind Kind, localID uint, remoteID string, queueID uint) error {
	model, err := modelFor(kind)
	if err != nil {
		return err
	}
	return h.inTx(ctx, func(tx *gorm.DB) error {
		open, err := openQueueRows(tx, kind, localID, queueID)
		if err != nil {
			return err
		}
		updates := map[string]any{"sync_status": SyncPending}
		if open == 0 {
			updates["sync_status"] = SyncSynced
			updates["last_synced"] = time.Now()
		}
		if remoteID != "" {
			updates["remote_id"] = remoteID
		}
		return tx.Model(model).Where("id = ?", localID).Updates(updates).Error
	})
}

// openQueueRows liczy niezakończone wpisy kolejki dla encji z lokalnym id liczbowym
func openQueueRows(tx *gorm.DB, kind Kind, localID, except uint) (int, error) {
	var rows []SyncQueueItem
	if err := tx.
		Where("type = ? AND status IN ? AND id <> ?", kind, []string{QueuePending, QueueError}, except).
		Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("read open %s items: %w", kind, err)
	}
	n := 0
	for _, it := range rows {
		var ref struct {
			ID uint `json:"id"`
		}
		if json.Unmarshal([]byte(it.Data), &ref) == nil && ref.ID == localID {
			n++
		}
	}
	return n, nil
}

// RemoteIDFor zwraca aktualne zdalne id encji ("" gdy jeszcze nie nadane albo brak wiersza).
func (h *Handle) RemoteIDFor(ctx context.Context, kind Kind, localID uint) (string, error) {
	model, err := modelFor(kind)
	if err != nil {
		return "", err
	}
	var ids []string
	if err := h.DB.WithContext(ctx).Model(model).Where("id = ?", localID).Pluck("remote_id", &ids).Error; err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// ClearAllData czyści tabele biznesowe. Kolejka i ustawienia zostają.
func (h *Handle) ClearAllData(ctx context.Context) error {
	return h.inTx(ctx, func(tx *gorm.DB) error {
		for _, m := range []any{
			&OrderItem{}, &Order{}, &TicketItem{}, &Ticket{},
			&Payment{}, &Session{}, &Product{}, &Category{}, &Customer{}, &User{},
		} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
				return fmt.Errorf("clear %T: %w", m, err)
			}
		}
		return nil
	})
}
