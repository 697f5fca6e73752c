package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ProductFilter struct {
	CategoryID string
	Search     string // nazwa, barcode albo sku
}

// SaveProducts zapisuje lokalne zmiany produktów (edycja w kasie, import z PC-Market).
// Każdy produkt dostaje wpis product/create albo product/update.
func (h *Handle) SaveProducts(ctx context.Context, products ...Product) error {
	if len(products) == 0 {
		return nil
	}

	tx := h.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	for i := range products {
		p := &products[i]
		action := ActionUpdate
		if p.ID == "" {
			p.ID = uuid.NewString()
			action = ActionCreate
		} else {
			var n int64
			if err := tx.Model(&Product{}).Where("id = ?", p.ID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				action = ActionCreate
			}
		}
		if p.Source == "" {
			p.Source = "local"
		}
		if err := tx.Save(p).Error; err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
		if err := enqueue(tx, KindProduct, action, p); err != nil {
			return err
		}
	}

	return tx.Commit().Error
}

// AdjustStock zmienia stan magazynowy o delta (ujemna przy sprzedaży).
func (h *Handle) AdjustStock(ctx context.Context, productID string, delta decimal.Decimal) (*Product, error) {
	tx := h.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	var p Product
	err := tx.Where("id = ?", productID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	p.Stock = p.Stock.Add(delta)
	if err := tx.Save(&p).Error; err != nil {
		return nil, err
	}
	if err := enqueue(tx, KindProduct, ActionUpdate, p); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProduct usuwa produkt lokalnie i kolejkuje product/delete. Brak produktu = no-op.
func (h *Handle) DeleteProduct(ctx context.Context, id string) error {
	tx := h.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	res := tx.Where("id = ?", id).Delete(&Product{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	if err := enqueue(tx, KindProduct, ActionDelete, Product{ID: id}); err != nil {
		return err
	}
	return tx.Commit().Error
}

func (h *Handle) GetProduct(ctx context.Context, id string) (*Product, error) {
	return takeOne[Product](h.DB.WithContext(ctx).Where("id = ?", id))
}

func (h *Handle) GetProductByBarcode(ctx context.Context, barcode string) (*Product, error) {
	return takeOne[Product](h.DB.WithContext(ctx).Where("barcode = ?", barcode))
}

func (h *Handle) ListProducts(ctx context.Context, f ProductFilter) ([]Product, error) {
	q := h.DB.WithContext(ctx).Order("name ASC")
	if f.CategoryID != "" {
		q = q.Where("category_id = ?", f.CategoryID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(name) LIKE ? OR barcode LIKE ? OR sku LIKE ?", like, like, like)
	}
	var out []Product
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Handle) ListCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := h.DB.WithContext(ctx).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCustomer: klient założony w kasie, czeka na synchronizację.
func (h *Handle) CreateCustomer(ctx context.Context, c *Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Source == "" {
		c.Source = "local"
	}
	return h.writeWithQueue(ctx, KindCustomer, ActionCreate, c, func(tx *gorm.DB) error {
		return tx.Create(c).Error
	})
}

func (h *Handle) UpdateCustomer(ctx context.Context, c *Customer) error {
	return h.writeWithQueue(ctx, KindCustomer, ActionUpdate, c, func(tx *gorm.DB) error {
		res := tx.Model(&Customer{}).Where("id = ?", c.ID).Select("*").Omit("id", "created_at").Updates(c)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("customer %s: %w", c.ID, ErrNotFound)
		}
		return nil
	})
}

// DeleteCustomer: brak klienta = no-op, nic nie trafia do kolejki.
func (h *Handle) DeleteCustomer(ctx context.Context, id string) error {
	return h.inTx(ctx, func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&Customer{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return enqueue(tx, KindCustomer, ActionDelete, Customer{ID: id})
	})
}

func (h *Handle) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	return takeOne[Customer](h.DB.WithContext(ctx).Where("id = ?", id))
}

func (h *Handle) ListCustomers(ctx context.Context, search string) ([]Customer, error) {
	q := h.DB.WithContext(ctx).Order("name ASC")
	if s := strings.TrimSpace(search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR phone LIKE ?", like, like, "%"+s+"%")
	}
	var out []Customer
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Handle) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := h.DB.WithContext(ctx).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Handle) GetUserByPIN(ctx context.Context, pin string) (*User, error) {
	if pin == "" {
		return nil, nil
	}
	return takeOne[User](h.DB.WithContext(ctx).Where("pin = ?", pin))
}

// writeWithQueue: zapis encji + wpis kolejki, wszystko albo nic
func (h *Handle) writeWithQueue(ctx context.Context, kind Kind, action Action, payload any, write func(tx *gorm.DB) error) error {
	return h.inTx(ctx, func(tx *gorm.DB) error {
		if err := write(tx); err != nil {
			return err
		}
		return enqueue(tx, kind, action, payload)
	})
}

// takeOne: (nil, nil) gdy brak rekordu
func takeOne[T any](q *gorm.DB) (*T, error) {
	var v T
	err := q.Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
