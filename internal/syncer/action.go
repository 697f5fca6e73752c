package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/bartek5186/posync/internal/db"
)

var (
	ErrUnknownAction    = errors.New("unknown sync action")
	ErrAwaitingRemoteID = errors.New("remote id not assigned yet")
)

// Action to jedna mutacja z kolejki, zdekodowana raz z (type, action, data).
// Zbiór typów jest zamknięty: implementacje są tylko w tym pakiecie.
type Action interface {
	Kind() db.Kind
	Op() db.Action
	// entity identyfikuje encję lokalną; akcje tej samej encji w batchu idą po kolei
	entity() string
	push(p *pusher) error
}

type (
	OrderCreate struct{ Order db.Order }
	OrderUpdate struct{ Order db.Order }

	TicketCreate struct{ Ticket db.Ticket }
	TicketUpdate struct{ Ticket db.Ticket }
	TicketDelete struct{ Ticket db.Ticket }

	ProductCreate struct{ Product db.Product }
	ProductUpdate struct{ Product db.Product }
	ProductDelete struct{ Product db.Product }

	CustomerCreate struct{ Customer db.Customer }
	CustomerUpdate struct{ Customer db.Customer }
	CustomerDelete struct{ Customer db.Customer }

	PaymentCreate struct{ Payment db.Payment }

	SessionCreate struct{ Session db.Session }
	SessionUpdate struct{ Session db.Session }
)

// Decode mapuje wiersz kolejki na konkretną akcję. Nieznana para => ErrUnknownAction.
func Decode(item db.SyncQueueItem) (Action, error) {
	switch item.Type {
	case db.KindOrder:
		switch item.Action {
		case db.ActionCreate:
			return decodeAs(item, func(o db.Order) Action { return OrderCreate{o} })
		case db.ActionUpdate:
			return decodeAs(item, func(o db.Order) Action { return OrderUpdate{o} })
		}
	case db.KindTicket:
		switch item.Action {
		case db.ActionCreate:
			return decodeAs(item, func(t db.Ticket) Action { return TicketCreate{t} })
		case db.ActionUpdate:
			return decodeAs(item, func(t db.Ticket) Action { return TicketUpdate{t} })
		case db.ActionDelete:
			return decodeAs(item, func(t db.Ticket) Action { return TicketDelete{t} })
		}
	case db.KindProduct:
		switch item.Action {
		case db.ActionCreate:
			return decodeAs(item, func(p db.Product) Action { return ProductCreate{p} })
		case db.ActionUpdate:
			return decodeAs(item, func(p db.Product) Action { return ProductUpdate{p} })
		case db.ActionDelete:
			return decodeAs(item, func(p db.Product) Action { return ProductDelete{p} })
		}
	case db.KindCustomer:
		switch item.Action {
		case db.ActionCreate:
			return decodeAs(item, func(c db.Customer) Action { return CustomerCreate{c} })
		case db.ActionUpdate:
			return decodeAs(item, func(c db.Customer) Action { return CustomerUpdate{c} })
		case db.ActionDelete:
			return decodeAs(item, func(c db.Customer) Action { return CustomerDelete{c} })
		}
	case db.KindPayment:
		if item.Action == db.ActionCreate {
			return decodeAs(item, func(p db.Payment) Action { return PaymentCreate{p} })
		}
	case db.KindSession:
		switch item.Action {
		case db.ActionCreate:
			return decodeAs(item, func(s db.Session) Action { return SessionCreate{s} })
		case db.ActionUpdate:
			return decodeAs(item, func(s db.Session) Action { return SessionUpdate{s} })
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnknownAction, item.Type, item.Action)
}

func decodeAs[T any](item db.SyncQueueItem, wrap func(T) Action) (Action, error) {
	var v T
	if err := json.Unmarshal([]byte(item.Data), &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s payload: %w", item.Type, item.Action, err)
	}
	return wrap(v), nil
}

func (OrderCreate) Kind() db.Kind    { return db.KindOrder }
func (OrderUpdate) Kind() db.Kind    { return db.KindOrder }
func (TicketCreate) Kind() db.Kind   { return db.KindTicket }
func (TicketUpdate) Kind() db.Kind   { return db.KindTicket }
func (TicketDelete) Kind() db.Kind   { return db.KindTicket }
func (ProductCreate) Kind() db.Kind  { return db.KindProduct }
func (ProductUpdate) Kind() db.Kind  { return db.KindProduct }
func (ProductDelete) Kind() db.Kind  { return db.KindProduct }
func (CustomerCreate) Kind() db.Kind { return db.KindCustomer }
func (CustomerUpdate) Kind() db.Kind { return db.KindCustomer }
func (CustomerDelete) Kind() db.Kind { return db.KindCustomer }
func (PaymentCreate) Kind() db.Kind  { return db.KindPayment }
func (SessionCreate) Kind() db.Kind  { return db.KindSession }
func (SessionUpdate) Kind() db.Kind  { return db.KindSession }

func (OrderCreate) Op() db.Action    { return db.ActionCreate }
func (OrderUpdate) Op() db.Action    { return db.ActionUpdate }
func (TicketCreate) Op() db.Action   { return db.ActionCreate }
func (TicketUpdate) Op() db.Action   { return db.ActionUpdate }
func (TicketDelete) Op() db.Action   { return db.ActionDelete }
func (ProductCreate) Op() db.Action  { return db.ActionCreate }
func (ProductUpdate) Op() db.Action  { return db.ActionUpdate }
func (ProductDelete) Op() db.Action  { return db.ActionDelete }
func (CustomerCreate) Op() db.Action { return db.ActionCreate }
func (CustomerUpdate) Op() db.Action { return db.ActionUpdate }
func (CustomerDelete) Op() db.Action { return db.ActionDelete }
func (PaymentCreate) Op() db.Action  { return db.ActionCreate }
func (SessionCreate) Op() db.Action  { return db.ActionCreate }
func (SessionUpdate) Op() db.Action  { return db.ActionUpdate }

func numKey(k db.Kind, id uint) string   { return string(k) + ":" + strconv.FormatUint(uint64(id), 10) }
func strKey(k db.Kind, id string) string { return string(k) + ":" + id }

func (a OrderCreate) entity() string    { return numKey(db.KindOrder, a.Order.ID) }
func (a OrderUpdate) entity() string    { return numKey(db.KindOrder, a.Order.ID) }
func (a TicketCreate) entity() string   { return numKey(db.KindTicket, a.Ticket.ID) }
func (a TicketUpdate) entity() string   { return numKey(db.KindTicket, a.Ticket.ID) }
func (a TicketDelete) entity() string   { return numKey(db.KindTicket, a.Ticket.ID) }
func (a ProductCreate) entity() string  { return strKey(db.KindProduct, a.Product.ID) }
func (a ProductUpdate) entity() string  { return strKey(db.KindProduct, a.Product.ID) }
func (a ProductDelete) entity() string  { return strKey(db.KindProduct, a.Product.ID) }
func (a CustomerCreate) entity() string { return strKey(db.KindCustomer, a.Customer.ID) }
func (a CustomerUpdate) entity() string { return strKey(db.KindCustomer, a.Customer.ID) }
func (a CustomerDelete) entity() string { return strKey(db.KindCustomer, a.Customer.ID) }
func (a PaymentCreate) entity() string  { return numKey(db.KindPayment, a.Payment.ID) }
func (a SessionCreate) entity() string  { return numKey(db.KindSession, a.Session.ID) }
func (a SessionUpdate) entity() string  { return numKey(db.KindSession, a.Session.ID) }

func (a OrderCreate) push(p *pusher) error {
	o := a.Order
	return p.upsertTracked(db.KindOrder, o.ID, o.RemoteID, true, func(rid string) any {
		o.RemoteID = rid
		return o
	})
}

func (a OrderUpdate) push(p *pusher) error {
	o := a.Order
	return p.upsertTracked(db.KindOrder, o.ID, o.RemoteID, false, func(rid string) any {
		o.RemoteID = rid
		return o
	})
}

func (a TicketCreate) push(p *pusher) error {
	t := a.Ticket
	return p.upsertTracked(db.KindTicket, t.ID, t.RemoteID, true, func(rid string) any {
		t.RemoteID = rid
		return t
	})
}

func (a TicketUpdate) push(p *pusher) error {
	t := a.Ticket
	return p.upsertTracked(db.KindTicket, t.ID, t.RemoteID, false, func(rid string) any {
		t.RemoteID = rid
		return t
	})
}

// ticket już nie istnieje lokalnie, zdalne id bierzemy ze snapshotu
func (a TicketDelete) push(p *pusher) error {
	if a.Ticket.RemoteID == "" {
		return fmt.Errorf("ticket %d: %w", a.Ticket.ID, ErrAwaitingRemoteID)
	}
	return p.delete(db.KindTicket, a.Ticket.RemoteID)
}

func (a ProductCreate) push(p *pusher) error {
	return p.upsert(db.KindProduct, a.Product.ID, a.Product)
}
func (a ProductUpdate) push(p *pusher) error {
	return p.upsert(db.KindProduct, a.Product.ID, a.Product)
}
func (a ProductDelete) push(p *pusher) error { return p.delete(db.KindProduct, a.Product.ID) }

func (a CustomerCreate) push(p *pusher) error {
	return p.upsert(db.KindCustomer, a.Customer.ID, a.Customer)
}
func (a CustomerUpdate) push(p *pusher) error {
	return p.upsert(db.KindCustomer, a.Customer.ID, a.Customer)
}
func (a CustomerDelete) push(p *pusher) error { return p.delete(db.KindCustomer, a.Customer.ID) }

func (a PaymentCreate) push(p *pusher) error {
	pm := a.Payment
	return p.upsertTracked(db.KindPayment, pm.ID, pm.RemoteID, true, func(rid string) any {
		pm.RemoteID = rid
		return pm
	})
}

func (a SessionCreate) push(p *pusher) error {
	s := a.Session
	return p.upsertTracked(db.KindSession, s.ID, s.RemoteID, true, func(rid string) any {
		s.RemoteID = rid
		return s
	})
}

func (a SessionUpdate) push(p *pusher) error {
	s := a.Session
	return p.upsertTracked(db.KindSession, s.ID, s.RemoteID, false, func(rid string) any {
		s.RemoteID = rid
		return s
	})
}
