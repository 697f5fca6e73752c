// Package memory is an in-process document store: used by tests, demos and offline development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bartek5186/posync/internal/remote"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	OpUpsert = "upsert"
	OpDelete = "delete"
	OpQuery  = "query"
)

type Store struct {
	log zerolog.Logger

	mu     sync.Mutex
	docs   map[string]map[string]remote.Document
	online bool
	fail   map[string]error // "collection/id" albo "collection/*"
	failQ  map[string]error // query per kolekcja
	calls  map[string]int
	lastTS time.Time
	closed bool
}

func New(log zerolog.Logger) *Store {
	return &Store{
		log:    log,
		docs:   map[string]map[string]remote.Document{},
		online: true,
		fail:   map[string]error{},
		failQ:  map[string]error{},
		calls:  map[string]int{},
	}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Upsert(ctx context.Context, collection, id string, body json.RawMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpUpsert]++
	if err := s.checkLocked(ctx); err != nil {
		return "", err
	}
	if err := s.failureLocked(collection, id); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	s.putLocked(collection, id, body)
	return id, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpDelete]++
	if err := s.checkLocked(ctx); err != nil {
		return err
	}
	if err := s.failureLocked(collection, id); err != nil {
		return err
	}
	delete(s.docs[collection], id)
	return nil
}

func (s *Store) QueryUpdatedSince(ctx context.Context, collection string, since time.Time) ([]remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpQuery]++
	if err := s.checkLocked(ctx); err != nil {
		return nil, err
	}
	if err := s.failQ[collection]; err != nil {
		return nil, err
	}
	var out []remote.Document
	for _, d := range s.docs[collection] {
		if since.IsZero() || d.UpdatedAt.After(since) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(ctx)
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Seed wstawia dokument z pominięciem liczników i awarii (dane "z chmury").
func (s *Store) Seed(collection, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(collection, id, body)
	return nil
}

func (s *Store) Get(collection, id string) (remote.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[collection][id]
	return d, ok
}

func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[collection])
}

func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}

// FailWith: kolejne zapisy/usunięcia (collection, id) kończą się err; id "" = cała kolekcja.
// err == nil zdejmuje awarię.
func (s *Store) FailWith(collection, id string, err error) {
	key := collection + "/" + id
	if id == "" {
		key = collection + "/*"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, key)
		return
	}
	s.fail[key] = err
}

// FailQuery: QueryUpdatedSince dla kolekcji zwraca err (nil zdejmuje).
func (s *Store) FailQuery(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failQ, collection)
		return
	}
	s.failQ[collection] = err
}

func (s *Store) checkLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return fmt.Errorf("memory store closed: %w", remote.ErrUnavailable)
	}
	if !s.online {
		return remote.ErrUnavailable
	}
	return nil
}

func (s *Store) failureLocked(collection, id string) error {
	if err, ok := s.fail[collection+"/"+id]; ok {
		return err
	}
	return s.fail[collection+"/*"]
}

// putLocked: znacznik czasu ściśle rosnący, żeby kursor pull-a nie gubił zapisów z tej samej chwili
func (s *Store) putLocked(collection, id string, body json.RawMessage) {
	now := time.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = now
	if s.docs[collection] == nil {
		s.docs[collection] = map[string]remote.Document{}
	}
	s.docs[collection][id] = remote.Document{
		ID:        id,
		UpdatedAt: now,
		Body:      append(json.RawMessage(nil), body...),
	}
}

func factory(log zerolog.Logger, raw json.RawMessage) (remote.Store, error) {
	log.Warn().Msg("memory remote store: data lives only in this process")
	return New(log), nil
}

func init() {
	remote.Register("memory", factory)
}
