// internal/remote/types.go
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnavailable: magazyn nieosiągalny (sieć, serwer, wyłączony).
var ErrUnavailable = errors.New("remote store unavailable")

// Document to jeden rekord kolekcji; UpdatedAt nadaje magazyn przy każdym zapisie.
type Document struct {
	ID        string          `json:"id"`
	UpdatedAt time.Time       `json:"updated_at"`
	Body      json.RawMessage `json:"body"`
}

type Store interface {
	Name() string
	// Upsert zapisuje dokument pod id; pusty id => magazyn nadaje nowe. Zwraca id dokumentu.
	Upsert(ctx context.Context, collection, id string, body json.RawMessage) (string, error)
	// Delete nie zgłasza błędu, gdy dokumentu nie ma.
	Delete(ctx context.Context, collection, id string) error
	// QueryUpdatedSince: dokumenty z UpdatedAt > since (zero time = wszystkie), rosnąco.
	QueryUpdatedSince(ctx context.Context, collection string, since time.Time) ([]Document, error)
	Close() error
}

// Pinger: magazyny, które umieją sprawdzić własną osiągalność.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Factory func(log zerolog.Logger, raw json.RawMessage) (Store, error)
