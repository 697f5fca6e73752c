package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderFilter struct {
	Status string
	UserID string
	From   time.Time
	To     time.Time
}

// CreateOrderWithItems zapisuje zamówienie, jego pozycje i jeden wpis kolejki (order/create)
// w jednej transakcji. Zwraca lokalne id zamówienia.
func (h *Handle) CreateOrderWithItems(ctx context.Context, order *Order, items []OrderItem) (uint, error) {
	if order == nil {
		return 0, errors.New("order is nil")
	}
	if order.RemoteID == "" {
		// id nadane po stronie kasy => powtórny push trafia w ten sam dokument
		order.RemoteID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = OrderCompleted
	}
	order.SyncStatus = SyncPending
	order.LastSynced = nil
	order.Items = nil

	for i := range items {
		items[i].ID = 0
		if items[i].Total.IsZero() {
			items[i].Total = lineTotal(items[i].Quantity, items[i].Price, items[i].Discount)
		}
	}
	if order.Total.IsZero() {
		for _, it := range items {
			order.Total = order.Total.Add(it.Total)
		}
	}

	tx := h.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer tx.Rollback()

	if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
	}
	if len(items) > 0 {
		if err := tx.Create(&items).Error; err != nil {
			return 0, fmt.Errorf("insert order items: %w", err)
		}
	}

	snapshot := *order
	snapshot.Items = append([]OrderItem(nil), items...)
	if err := enqueue(tx, KindOrder, ActionCreate, snapshot); err != nil {
		return 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return 0, fmt.Errorf("commit order: %w", err)
	}
	order.Items = items
	return order.ID, nil
}

// CompleteOrder zamyka szkic (draft -> completed) i kolejkuje order/update.
// Zamówienia completed/voided/refunded są niezmienne.
func (h *Handle) CompleteOrder(ctx context.Context, id uint) error {
	tx := h.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	var order Order
	err := tx.Preload("Items").Where("id = ?", id).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if order.Status != OrderDraft {
		return fmt.Errorf("order %d (%s): %w", id, order.Status, ErrOrderImmutable)
	}

	order.Status = OrderCompleted
	order.SyncStatus = SyncPending
	if err := tx.Model(&Order{}).Where("id = ?", id).Updates(map[string]any{
		"status":      order.Status,
		"sync_status": order.SyncStatus,
	}).Error; err != nil {
		return err
	}
	if err := enqueue(tx, KindOrder, ActionUpdate, order); err != nil {
		return err
	}
	return tx.Commit().Error
}

// GetOrderWithItems zwraca (nil, nil) gdy zamówienia nie ma.
func (h *Handle) GetOrderWithItems(ctx context.Context, id uint) (*Order, error) {
	var order Order
	err := h.DB.WithContext(ctx).Preload("Items").Where("id = ?", id).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders: najnowsze pierwsze.
func (h *Handle) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	q := h.DB.WithContext(ctx).Order("id DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To)
	}
	var out []Order
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrUpdateTicket: ID == 0 tworzy nowy ticket, inaczej podmienia nagłówek
// i cały zestaw pozycji (delete + insert). Każda zmiana trafia do kolejki.
func (h *Handle) CreateOrUpdateTicket(ctx context.Context, ticket *Ticket, items []TicketItem) (uint, error) {
	if ticket == nil {
		return 0, errors.New("ticket is nil")
	}
	for i := range items {
		items[i].ID = 0
	}
	if ticket.Total.IsZero() {
		for _, it := range items {
			ticket.Total = ticket.Total.Add(lineTotal(it.Quantity, it.Price, it.Discount))
		}
	}

	tx := h.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer tx.Rollback()

	action := ActionCreate
	if ticket.ID == 0 {
		if ticket.RemoteID == "" {
			ticket.RemoteID = uuid.NewString()
		}
		if ticket.Status == "" {
			ticket.Status = "open"
		}
		ticket.SyncStatus = SyncPending
		ticket.Items = nil
		if err := tx.Omit(clause.Associations).Create(ticket).Error; err != nil {
			return 0, fmt.Errorf("insert ticket: %w", err)
		}
	} else {
		action = ActionUpdate
		var existing Ticket
		err := tx.Where("id = ?", ticket.ID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("ticket %d: %w", ticket.ID, ErrNotFound)
		}
		if err != nil {
			return 0, err
		}
		if err := tx.Model(&Ticket{}).Where("id = ?", ticket.ID).Updates(map[string]any{
			"ticket_number": ticket.TicketNumber,
			"user_id":       ticket.UserID,
			"status":        ticket.Status,
			"total":         ticket.Total,
			"sync_status":   SyncPending,
			"updated_at":    time.Now(),
		}).Error; err != nil {
			return 0, fmt.Errorf("update ticket: %w", err)
		}
		if err := tx.Where("ticket_id = ?", ticket.ID).Delete(&TicketItem{}).Error; err != nil {
			return 0, fmt.Errorf("delete ticket items: %w", err)
		}
		if err := tx.Where("id = ?", ticket.ID).Take(ticket).Error; err != nil {
			return 0, err
		}
	}

	for i := range items {
		items[i].TicketID = ticket.ID
	}
	if len(items) > 0 {
		if err := tx.Create(&items).Error; err != nil {
			return 0, fmt.Errorf("insert ticket items: %w", err)
		}
	}

	snapshot := *ticket
	snapshot.Items = append([]TicketItem(nil), items...)
	if err := enqueue(tx, KindTicket, action, snapshot); err != nil {
		return 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return 0, fmt.Errorf("commit ticket: %w", err)
	}
	ticket.Items = items
	return ticket.ID, nil
}

// DeleteTicket usuwa ticket z pozycjami i kolejkuje ticket/delete. Brak ticketu = no-op.
func (h *Handle) DeleteTicket(ctx context.Context, id uint) error {
	tx := h.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	var t Ticket
	err := tx.Where("id = ?", id).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := tx.Where("ticket_id = ?", id).Delete(&TicketItem{}).Error; err != nil {
		return err
	}
	if err := tx.Delete(&Ticket{}, id).Error; err != nil {
		return err
	}
	if err := enqueue(tx, KindTicket, ActionDelete, Ticket{ID: t.ID, RemoteID: t.RemoteID}); err != nil {
		return err
	}
	return tx.Commit().Error
}

func (h *Handle) GetTicketWithItems(ctx context.Context, id uint) (*Ticket, error) {
	var t Ticket
	err := h.DB.WithContext(ctx).Preload("Items").Where("id = ?", id).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handle) ListTickets(ctx context.Context, status, userID string) ([]Ticket, error) {
	q := h.DB.WithContext(ctx).Order("id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var out []Ticket
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// qty * price - discount
func lineTotal(qty, price, discount decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Sub(discount)
}
