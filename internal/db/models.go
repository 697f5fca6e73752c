// internal/db/models.go
package db

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Kind to rodzaj encji (kolumna sync_queue.type i nazwa kolekcji po stronie remote)
type Kind string

const (
	KindProduct  Kind = "product"
	KindCategory Kind = "category"
	KindOrder    Kind = "order"
	KindTicket   Kind = "ticket"
	KindCustomer Kind = "customer"
	KindUser     Kind = "user"
	KindPayment  Kind = "payment"
	KindSession  Kind = "session"
)

// Collection zwraca nazwę kolekcji w zdalnym magazynie dokumentów.
func (k Kind) Collection() string {
	switch k {
	case KindCategory:
		return "categories"
	default:
		return string(k) + "s"
	}
}

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// statusy wierszy kolejki
const (
	QueuePending = "pending"
	QueueSynced  = "synced"
	QueueError   = "error"
)

// syncStatus encji lokalnych
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
)

const (
	OrderDraft     = "draft"
	OrderCompleted = "completed"
	OrderVoided    = "voided"
	OrderRefunded  = "refunded"
)

const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)

// products
type Product struct {
	ID         string          `gorm:"primaryKey" json:"id"`
	Barcode    string          `gorm:"index" json:"barcode"`
	SKU        string          `gorm:"index" json:"sku"`
	Name       string          `json:"name"`
	CategoryID string          `gorm:"index" json:"category_id"`
	Price      decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"`
	Stock      decimal.Decimal `gorm:"type:decimal(12,3)" json:"stock"`
	Source     string          `json:"source"` // local / remote / pcm
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// categories
type Category struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// orders
type Order struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	RemoteID    string          `gorm:"index" json:"remote_id,omitempty"`
	OrderNumber string          `gorm:"index" json:"order_number"`
	Status      string          `gorm:"index;default:completed" json:"status"`
	Total       decimal.Decimal `gorm:"type:decimal(12,2)" json:"total"`
	UserID      string          `gorm:"index" json:"user_id"`
	CustomerID  string          `gorm:"index" json:"customer_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	SyncStatus  string          `gorm:"index;default:pending" json:"sync_status"`
	LastSynced  *time.Time      `json:"last_synced,omitempty"`
	Items       []OrderItem     `gorm:"constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// order_items
type OrderItem struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	OrderID   uint            `gorm:"index;not null" json:"order_id"`
	ProductID string          `gorm:"index" json:"product_id"`
	Quantity  decimal.Decimal `gorm:"type:decimal(12,3)" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"`
	Discount  decimal.Decimal `gorm:"type:decimal(12,2)" json:"discount"`
	Total     decimal.Decimal `gorm:"type:decimal(12,2)" json:"total"`
}

// BeforeCreate odrzuca pozycje bez produktu lub z ilością <= 0.
// Hook działa wewnątrz transakcji zamówienia, więc błąd wycofuje cały zapis.
func (it *OrderItem) BeforeCreate(tx *gorm.DB) error {
	return validateLine(it.ProductID, it.Quantity)
}

// tickets (zaparkowane zamówienia)
type Ticket struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	RemoteID     string          `gorm:"index" json:"remote_id,omitempty"`
	TicketNumber string          `gorm:"index" json:"ticket_number"`
	UserID       string          `gorm:"index" json:"user_id"`
	Status       string          `gorm:"index" json:"status"`
	Total        decimal.Decimal `gorm:"type:decimal(12,2)" json:"total"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	SyncStatus   string          `gorm:"index;default:pending" json:"sync_status"`
	LastSynced   *time.Time      `json:"last_synced,omitempty"`
	Items        []TicketItem    `gorm:"constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// ticket_items
type TicketItem struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	TicketID  uint            `gorm:"index;not null" json:"ticket_id"`
	ProductID string          `gorm:"index" json:"product_id"`
	Quantity  decimal.Decimal `gorm:"type:decimal(12,3)" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"`
	Discount  decimal.Decimal `gorm:"type:decimal(12,2)" json:"discount"`
}

func (it *TicketItem) BeforeCreate(tx *gorm.DB) error {
	return validateLine(it.ProductID, it.Quantity)
}

func validateLine(productID string, qty decimal.Decimal) error {
	if productID == "" {
		return fmt.Errorf("%w: missing product id", ErrInvalidItem)
	}
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity %s for product %s", ErrInvalidItem, qty, productID)
	}
	return nil
}

// customers (pola zgodne z kioskiem)
type Customer struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	CustomerID   string    `gorm:"index" json:"customer_id"`
	MemberID     string    `gorm:"index" json:"member_id"`
	Name         string    `json:"name"`
	LastName     string    `json:"last_name"`
	Email        string    `gorm:"index" json:"email"`
	Phone        string    `json:"phone"`
	Cell         string    `json:"cell"`
	CustomerCode string    `json:"customer_code"`
	Nationality  string    `json:"nationality"`
	IsActive     bool      `json:"is_active"`
	IsMember     bool      `json:"is_member"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// users (personel)
type User struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	Username   string     `gorm:"index" json:"username"`
	Name       string     `json:"name"`
	Role       string     `json:"role"`
	Email      string     `json:"email"`
	PIN        string     `gorm:"column:pin;index" json:"pin"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastSynced *time.Time `json:"last_synced,omitempty"`
}

// payments
type Payment struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	RemoteID   string          `gorm:"index" json:"remote_id,omitempty"`
	OrderID    uint            `gorm:"index" json:"order_id"`
	Method     string          `json:"method"` // cash / card / crypto
	Amount     decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	SyncStatus string          `gorm:"index;default:pending" json:"sync_status"`
	LastSynced *time.Time      `json:"last_synced,omitempty"`
}

// sessions (szuflada kasowa)
type Session struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	RemoteID       string          `gorm:"index" json:"remote_id,omitempty"`
	UserID         string          `gorm:"index" json:"user_id"`
	OpenedAt       time.Time       `json:"opened_at"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(12,2)" json:"opening_balance"`
	ClosingBalance decimal.Decimal `gorm:"type:decimal(12,2)" json:"closing_balance"`
	Status         string          `gorm:"index" json:"status"`
	SyncStatus     string          `gorm:"index;default:pending" json:"sync_status"`
	LastSynced     *time.Time      `json:"last_synced,omitempty"`
}

// sync_queue
type SyncQueueItem struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Type        Kind       `gorm:"index" json:"type"`
	Action      Action     `gorm:"index" json:"action"`
	Data        string     `gorm:"type:text" json:"data"` // snapshot JSON z chwili zapisu
	Status      string     `gorm:"index;default:pending" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
}

func (SyncQueueItem) TableName() string { return "sync_queue" }

// settings (KV)
type Setting struct {
	Key        string `gorm:"primaryKey"`
	Value      string `gorm:"type:text"`
	LastSynced time.Time
}

// import_files (rejestr plików z PC-Market, deduplikacja po SHA)
type ImportFile struct {
	ImportID     uint   `gorm:"primaryKey;column:import_id"`
	Filename     string `gorm:"uniqueIndex"`
	TransmisjaID string `gorm:"index"`
	SHA256       string `gorm:"uniqueIndex"`
	SizeBytes    int64
	Products     int
	Status       int       `gorm:"index"` // 0=pending, 1=done, 2=error
	LastError    string    `gorm:"type:text"`
	ReceivedAt   time.Time `gorm:"autoCreateTime"`
	ProcessedAt  *time.Time
}
