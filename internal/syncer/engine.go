package syncer

import (
	"context"
	"fmt"
	"time"

	conf "github.com/bartek5186/posync/internal/config"
	"github.com/bartek5186/posync/internal/db"
	"github.com/bartek5186/posync/internal/events"
	"github.com/bartek5186/posync/internal/status"
)

type SkipReason string

const (
	SkipNone    SkipReason = ""
	SkipOffline SkipReason = "offline"
	SkipBusy    SkipReason = "busy"
)

// Result opisuje jeden cykl synchronizacji.
type Result struct {
	Started    time.Time         `json:"started"`
	Finished   time.Time         `json:"finished"`
	Forced     bool              `json:"forced"`
	Requeued   int               `json:"requeued"`
	Batches    int               `json:"batches"`
	Pushed     int               `json:"pushed"`
	Failed     int               `json:"failed"`
	Purged     int64             `json:"purged"`
	Pulled     map[string]int    `json:"pulled"`
	PullErrors map[string]string `json:"pull_errors,omitempty"`
	Skipped    SkipReason        `json:"skipped,omitempty"`
}

// Sync: wejście timera. Offline albo trwający sync => natychmiastowy powrót.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	return s.run(ctx, false)
}

// ForceSync: reconnect / "sync now". Najpierw przywraca wpisy error do pending.
func (s *Syncer) ForceSync(ctx context.Context) (*Result, error) {
	return s.run(ctx, true)
}

func (s *Syncer) run(ctx context.Context, forced bool) (*Result, error) {
	res := &Result{
		Started:    s.now(),
		Forced:     forced,
		Pulled:     map[string]int{},
		PullErrors: map[string]string{},
	}
	if !s.status.IsOnline() {
		res.Skipped = SkipOffline
		res.Finished = res.Started
		return res, nil
	}
	if !s.busy.CompareAndSwap(false, true) {
		res.Skipped = SkipBusy
		res.Finished = res.Started
		return res, nil
	}
	err := s.guarded(ctx, forced, res)
	// publish już poza flagą busy
	s.publish(ctx, res, err)
	return res, err
}

// guarded wykonuje cykl pod flagą busy i ją zwalnia
func (s *Syncer) guarded(ctx context.Context, forced bool, res *Result) error {
	defer s.busy.Store(false)

	cfg := s.config()
	s.status.SetStatus(status.Syncing)

	err := s.cycle(ctx, cfg.BatchSize, cfg.PullKinds, retryPolicyFrom(cfg), forced, res)
	res.Finished = s.now()
	log := s.log.With().
		Bool("forced", forced).
		Int("pushed", res.Pushed).
		Int("failed", res.Failed).
		Int("batches", res.Batches).
		Dur("took", res.Finished.Sub(res.Started)).
		Logger()

	if err != nil {
		s.status.SetStatus(status.Error)
		s.status.AddError(status.ErrSyncFailed, err.Error())
		log.Error().Err(err).Msg("sync failed")
		return err
	}

	s.status.SetLastSyncTime(res.Finished)
	s.status.SetStatus(status.Synced)
	log.Info().Interface("pulled", res.Pulled).Msg("sync done")
	return nil
}

// cycle: requeue -> push w batchach -> purge -> pull. Błąd = awaria na poziomie silnika.
func (s *Syncer) cycle(ctx context.Context, batchSize int, kinds []string, policy RetryPolicy, forced bool, res *Result) error {
	var err error
	if forced {
		res.Requeued, err = s.store.RequeueErrored(ctx, nil)
	} else if policy.Mode == conf.RetryBackoff {
		now := s.now()
		res.Requeued, err = s.store.RequeueErrored(ctx, func(it db.SyncQueueItem) bool { return policy.Due(it, now) })
	}
	if err != nil {
		return fmt.Errorf("requeue failed items: %w", err)
	}

	items, err := s.store.GetPendingQueueItems(ctx)
	if err != nil {
		return fmt.Errorf("read sync queue: %w", err)
	}

	if len(items) > 0 {
		s.status.SetPendingCount(len(items))
		blocked, err := s.blockedEntities(ctx)
		if err != nil {
			return fmt.Errorf("read failed items: %w", err)
		}
		if batchSize <= 0 {
			batchSize = 10
		}
		for i := 0; i < len(items); i += batchSize {
			end := min(i+batchSize, len(items))
			res.Batches++
			if err := s.pushBatch(ctx, items[i:end], blocked, res); err != nil {
				return err
			}
		}
		if res.Purged, err = s.store.PurgeSyncedQueueItems(ctx); err != nil {
			return fmt.Errorf("purge synced items: %w", err)
		}
		s.status.SetPendingCount(0)
	}

	return s.pull(ctx, kinds, res)
}

// RefreshPending przelicza licznik oczekujących wpisów (start, po zapisach lokalnych, offline).
func (s *Syncer) RefreshPending(ctx context.Context) (int, error) {
	pending, err := s.store.CountQueue(ctx, db.QueuePending)
	if err != nil {
		return 0, err
	}
	failed, err := s.store.CountQueue(ctx, db.QueueError)
	if err != nil {
		return 0, err
	}
	s.status.SetPendingCount(int(pending))

	if limit := s.config().MaxOfflineQueue; limit > 0 && int(pending+failed) > limit {
		s.log.Warn().
			Int64("pending", pending).
			Int64("failed", failed).
			Int("max_offline_queue", limit).
			Msg("offline queue over limit")
	}
	if pending > 0 && s.status.Status() == status.Synced {
		s.status.SetStatus(status.Pending)
	}
	return int(pending), nil
}

func (s *Syncer) publish(ctx context.Context, res *Result, syncErr error) {
	s.mu.Lock()
	pub := s.events
	s.mu.Unlock()
	if pub == nil {
		return
	}
	ev := events.Event{
		Type:     events.SyncCompleted,
		Terminal: s.config().Terminal,
		Started:  res.Started,
		Finished: res.Finished,
		Pushed:   res.Pushed,
		Failed:   res.Failed,
		Pulled:   res.Pulled,
		PullErrs: res.PullErrors,
	}
	if syncErr != nil {
		ev.Type = events.SyncFailed
		ev.Error = syncErr.Error()
	}
	if err := pub.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Type).Msg("publish sync event")
	}
}
