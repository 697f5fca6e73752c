// internal/syncer/syncer.go
package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	conf "github.com/bartek5186/posync/internal/config"
	"github.com/bartek5186/posync/internal/db"
	"github.com/bartek5186/posync/internal/events"
	"github.com/bartek5186/posync/internal/remote"
	"github.com/bartek5186/posync/internal/status"
	"github.com/rs/zerolog"
)

type Syncer struct {
	log     zerolog.Logger // logowanie
	store   *db.Handle     // lokalna baza + kolejka
	remote  remote.Store   // magazyn zdalny
	status  *status.Store  // stan widoczny dla UI
	mu      sync.Mutex     // ochrona sekcji krytycznych
	cfg     *conf.Config   // aktualna konfiguracja
	events  events.Publisher
	running bool // czy pętla timera działa
	cancel  context.CancelFunc
	wg      sync.WaitGroup // śledzi goroutines
	ticks   uint64         // licznik ticków
	busy    atomic.Bool    // trwa sync (guard re-entrancy)
	now     func() time.Time
}

func New(log zerolog.Logger, cfg *conf.Config, store *db.Handle, rem remote.Store, st *status.Store) *Syncer {
	if cfg == nil {
		cfg = conf.Default()
	}
	return &Syncer{
		log:    log,
		cfg:    cfg,
		store:  store,
		remote: rem,
		status: st,
		events: events.Nop{},
		now:    time.Now,
	}
}

// SetPublisher podpina odbiorcę eventów (np. RabbitMQ).
func (s *Syncer) SetPublisher(p events.Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = p
}

func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.ticks = 0
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info().Dur("interval", s.interval()).Msg("Syncer: start")
	go s.loop(ctx)
	return nil
}

func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("Syncer: stop")
}

func (s *Syncer) UpdateConfig(cfg *conf.Config) {
	cfg.Normalize()
	s.mu.Lock()
	s.cfg = cfg
	isRunning := s.running
	s.mu.Unlock()

	s.status.SetMaxQueue(cfg.MaxOfflineQueue)
	s.log.Info().Msg("Syncer: config zaktualizowany")

	if isRunning {
		// restart pętli, żeby wzięła nowy interwał
		s.log.Info().Msg("Syncer: restart po zmianie configu")
		s.Stop()
		_ = s.Start(context.Background())
	}
}

func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Syncer) config() *conf.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Syncer) interval() time.Duration {
	if iv := s.config().SyncInterval(); iv > 0 {
		return iv
	}
	return 30 * time.Second
}

func (s *Syncer) loop(ctx context.Context) {
	defer s.wg.Done()

	// pierwszy strzał od razu
	s.tickOnce(ctx)

	current := s.interval()
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Syncer: koniec pętli")
			return
		case <-ticker.C:
			if iv := s.interval(); iv != current {
				current = iv
				ticker.Reset(current)
			}
			s.tickOnce(ctx)
		}
	}
}

func (s *Syncer) tickOnce(ctx context.Context) {
	s.mu.Lock()
	s.ticks++
	n := s.ticks
	s.mu.Unlock()

	// offline: tylko odśwież licznik dla UI
	if _, err := s.RefreshPending(ctx); err != nil {
		s.log.Error().Err(err).Msg("refresh pending count")
	}

	res, err := s.Sync(ctx)
	if err != nil {
		// błąd jest już w status store; timer nie propaguje go dalej
		return
	}
	if res.Skipped != SkipNone {
		s.log.Debug().Uint64("tick", n).Str("skipped", string(res.Skipped)).Msg("Syncer: tick pominięty")
	}
}
