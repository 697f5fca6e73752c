// Package status holds the observable sync state shown by the tray, CLI and dashboard.
package status

import (
	"sync"
	"time"
)

type State string

const (
	Synced  State = "synced"
	Pending State = "pending"
	Syncing State = "syncing"
	Offline State = "offline"
	Error   State = "error"
)

// typy wpisów w logu błędów
const (
	ErrSyncFailed = "sync_failed"
	ErrItemFailed = "item_failed"
	ErrPullFailed = "pull_failed"
)

type ErrorEntry struct {
	Message string    `json:"message"`
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
}

type Snapshot struct {
	Online       bool         `json:"is_online"`
	Status       State        `json:"status"`
	PendingCount int          `json:"pending_count"`
	OverCapacity bool         `json:"over_capacity"`
	LastSyncTime *time.Time   `json:"last_sync_time,omitempty"`
	Errors       []ErrorEntry `json:"errors"`
}

// Store: jedna instancja na proces, bezpieczna dla wielu goroutine.
type Store struct {
	mu       sync.Mutex
	online   bool
	state    State
	pending  int
	maxQueue int
	lastSync *time.Time
	errors   []ErrorEntry
	subs     map[int]chan Snapshot
	nextSub  int
}

// New: start w stanie synced, online; maxQueue <= 0 wyłącza flagę OverCapacity.
func New(maxQueue int) *Store {
	return &Store{
		online:   true,
		state:    Synced,
		maxQueue: maxQueue,
		subs:     map[int]chan Snapshot{},
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Online:       s.online,
		Status:       s.state,
		PendingCount: s.pending,
		OverCapacity: s.maxQueue > 0 && s.pending > s.maxQueue,
		Errors:       append([]ErrorEntry(nil), s.errors...),
	}
	if s.lastSync != nil {
		t := *s.lastSync
		snap.LastSyncTime = &t
	}
	return snap
}

func (s *Store) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Store) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetOnline(false) przestawia status na offline; powrót online nie zmienia statusu,
// robi to dopiero sync.
func (s *Store) SetOnline(online bool) {
	s.update(func() {
		s.online = online
		if !online {
			s.state = Offline
		}
	})
}

func (s *Store) SetStatus(st State) {
	s.update(func() { s.state = st })
}

func (s *Store) SetPendingCount(n int) {
	s.update(func() { s.pending = n })
}

func (s *Store) SetMaxQueue(n int) {
	s.update(func() { s.maxQueue = n })
}

func (s *Store) SetLastSyncTime(t time.Time) {
	s.update(func() { s.lastSync = &t })
}

// AddError dopisuje wpis do logu błędów (tylko dopisywanie, brak limitu).
func (s *Store) AddError(typ, message string) {
	s.update(func() {
		s.errors = append(s.errors, ErrorEntry{Message: message, Type: typ, Time: time.Now()})
	})
}

func (s *Store) ClearErrors() {
	s.update(func() { s.errors = nil })
}

// Subscribe zwraca kanał ze zmianami stanu; wolny odbiorca dostaje tylko najnowszy snapshot.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch: // wyrzuć stary
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
