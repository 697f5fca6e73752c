package db

import (
	"fmt"
)

// Migrate tworzy/aktualizuje schemat lokalnej bazy.
// Kolejność ma znaczenie: tabele nadrzędne przed pozycjami (klucze obce).
func (h *Handle) Migrate() error {
	gdb := h.DB

	if err := gdb.AutoMigrate(
		&Product{},
		&Category{},
		&Order{},
		&OrderItem{},
		&Ticket{},
		&TicketItem{},
		&Customer{},
		&User{},
		&Payment{},
		&Session{},
		&SyncQueueItem{},
		&Setting{},
		&ImportFile{},
	); err != nil {
		return fmt.Errorf("AutoMigrate error: %w", err)
	}

	// kolejka czytana jest zawsze po statusie w kolejności wstawiania
	if err := gdb.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sync_queue_status_id
		ON sync_queue(status, id);
	`).Error; err != nil {
		return fmt.Errorf("create index idx_sync_queue_status_id: %w", err)
	}

	return nil
}
