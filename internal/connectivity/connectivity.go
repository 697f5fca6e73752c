// Package connectivity śledzi dostępność sieci i odpala sync po powrocie online.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/bartek5186/posync/internal/remote"
	"github.com/bartek5186/posync/internal/status"
	"github.com/bartek5186/posync/internal/syncer"
	"github.com/rs/zerolog"
)

// Trigger to wymuszony sync (w praktyce *syncer.Syncer).
type Trigger interface {
	ForceSync(ctx context.Context) (*syncer.Result, error)
}

// Prober sprawdza, czy magazyn zdalny jest osiągalny.
type Prober interface {
	Ping(ctx context.Context) error
}

type Monitor struct {
	log      zerolog.Logger
	status   *status.Store
	trigger  Trigger
	prober   Prober
	interval time.Duration
	timeout  time.Duration

	mu sync.Mutex // serializuje przejścia online/offline
}

func New(log zerolog.Logger, st *status.Store, trigger Trigger, prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		log:      log,
		status:   st,
		trigger:  trigger,
		prober:   prober,
		interval: interval,
		timeout:  5 * time.Second,
	}
}

// WithTimeout ustawia limit pojedynczej próby.
func (m *Monitor) WithTimeout(d time.Duration) *Monitor {
	if d > 0 {
		m.timeout = d
	}
	return m
}

// Set przyjmuje sygnał z platformy (albo z sondy). Tylko przejście offline -> online
// uruchamia sync, i to dokładnie raz. Zwraca true gdy sync został wywołany.
func (m *Monitor) Set(ctx context.Context, online bool) bool {
	m.mu.Lock()
	was := m.status.IsOnline()
	m.status.SetOnline(online)
	m.mu.Unlock()

	if was == online {
		return false
	}
	if !online {
		m.log.Warn().Msg("Sieć niedostępna, praca offline")
		return false
	}

	m.log.Info().Msg("Sieć wróciła, wymuszam synchronizację")
	if m.trigger == nil {
		return false
	}
	res, err := m.trigger.ForceSync(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("sync po powrocie online")
		return true
	}
	if res != nil && res.Skipped != syncer.SkipNone {
		m.log.Debug().Str("skipped", string(res.Skipped)).Msg("sync po powrocie online pominięty")
	}
	return true
}

// Run sonduje magazyn co interval, aż do anulowania ctx. Bez sondy nic nie robi.
func (m *Monitor) Run(ctx context.Context) {
	if m.prober == nil {
		m.log.Info().Msg("Brak sondy łączności, status online tylko z sygnałów")
		<-ctx.Done()
		return
	}

	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe sprawdza osiągalność raz i ustawia status. Bez sondy nic nie robi.
func (m *Monitor) Probe(ctx context.Context) {
	if m.prober == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Ping(pctx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.log.Debug().Err(err).Msg("sonda: brak połączenia")
	}
	m.Set(ctx, err == nil)
}

// ProberFor zwraca magazyn jako sondę, jeśli umie Ping (nil w przeciwnym razie).
func ProberFor(store remote.Store) Prober {
	if p, ok := store.(remote.Pinger); ok {
		return p
	}
	return nil
}
