package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreatePayment zapisuje płatność bez zdalnego id; nada je magazyn zdalny przy pushu.
func (h *Handle) CreatePayment(ctx context.Context, p *Payment) (uint, error) {
	if p.Status == "" {
		p.Status = "completed"
	}
	p.SyncStatus = SyncPending
	err := h.inTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		return enqueue(tx, KindPayment, ActionCreate, p)
	})
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (h *Handle) ListPayments(ctx context.Context, orderID uint) ([]Payment, error) {
	var out []Payment
	if err := h.DB.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// OpenSession otwiera szufladę kasową.
func (h *Handle) OpenSession(ctx context.Context, userID string, openingBalance decimal.Decimal) (*Session, error) {
	s := &Session{
		UserID:         userID,
		OpenedAt:       time.Now(),
		OpeningBalance: openingBalance,
		Status:         SessionOpen,
		SyncStatus:     SyncPending,
	}
	err := h.inTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return enqueue(tx, KindSession, ActionCreate, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CloseSession zamyka sesję i kolejkuje session/update.
func (h *Handle) CloseSession(ctx context.Context, id uint, closingBalance decimal.Decimal) (*Session, error) {
	var s Session
	err := h.inTx(ctx, func(tx *gorm.DB) error {
		err := tx.Where("id = ?", id).Take(&s).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("session %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if s.Status == SessionClosed {
			return fmt.Errorf("session %d already closed", id)
		}
		now := time.Now()
		s.ClosedAt = &now
		s.ClosingBalance = closingBalance
		s.Status = SessionClosed
		s.SyncStatus = SyncPending
		if err := tx.Save(&s).Error; err != nil {
			return err
		}
		return enqueue(tx, KindSession, ActionUpdate, s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CurrentSession zwraca otwartą sesję albo nil.
func (h *Handle) CurrentSession(ctx context.Context) (*Session, error) {
	return takeOne[Session](h.DB.WithContext(ctx).Where("status = ?", SessionOpen).Order("id DESC"))
}

func (h *Handle) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := h.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit().Error
}
