package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bartek5186/posync/internal/db"
	"github.com/bartek5186/posync/internal/remote"
	"github.com/bartek5186/posync/internal/status"
	"golang.org/x/sync/errgroup"
)

// pusher wykonuje pojedyncze akcje na magazynie zdalnym
type pusher struct {
	ctx     context.Context
	store   *db.Handle
	remote  remote.Store
	queueID uint // wpis kolejki, który właśnie wysyłamy
}

func (p *pusher) upsert(kind db.Kind, id string, doc any) error {
	if id == "" {
		return fmt.Errorf("%s payload without id", kind)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = p.remote.Upsert(p.ctx, kind.Collection(), id, body)
	return err
}

func (p *pusher) delete(kind db.Kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s delete without id", kind)
	}
	return p.remote.Delete(p.ctx, kind.Collection(), id)
}

// upsertTracked: encje z lokalnym id liczbowym. Zdalne id czytamy z bazy (mogło zostać
// uzupełnione po snapshocie), inaczej ze snapshotu. Create bez id => id nadaje magazyn
// i wraca do lokalnego wiersza.
func (p *pusher) upsertTracked(kind db.Kind, localID uint, snapshotRID string, create bool, doc func(rid string) any) error {
	rid, err := p.store.RemoteIDFor(p.ctx, kind, localID)
	if err != nil {
		return fmt.Errorf("read remote id: %w", err)
	}
	if rid == "" {
		rid = snapshotRID
	}
	if rid == "" && !create {
		return fmt.Errorf("%s %d: %w", kind, localID, ErrAwaitingRemoteID)
	}

	body, err := json.Marshal(doc(rid))
	if err != nil {
		return err
	}
	got, err := p.remote.Upsert(p.ctx, kind.Collection(), rid, body)
	if err != nil {
		return err
	}
	if err := p.store.RecordRemoteID(p.ctx, kind, localID, got, p.queueID); err != nil {
		return fmt.Errorf("record remote id %s: %w", got, err)
	}
	return nil
}

type step struct {
	item   db.SyncQueueItem
	action Action
	err    error // błąd dekodowania
}

// pushBatch wysyła batch współbieżnie: każda encja w osobnej gorutynie, akcje jednej
// encji po kolei (kolejność z kolejki). Pierwsza porażka encji trafia do blocked,
// więc jej późniejsze wpisy z kolejnych batchy też czekają. Zwraca błąd tylko przy
// awarii lokalnej bazy.
func (s *Syncer) pushBatch(ctx context.Context, batch []db.SyncQueueItem, blocked map[string]uint, res *Result) error {
	chains := map[string][]step{}
	var keys []string
	for _, it := range batch {
		a, err := Decode(it)
		key := fmt.Sprintf("queue:%d", it.ID)
		if err == nil {
			key = a.entity()
		}
		if _, ok := chains[key]; !ok {
			keys = append(keys, key)
		}
		chains[key] = append(chains[key], step{item: it, action: a, err: err})
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, key := range keys {
		steps := chains[key]
		mu.Lock()
		firstFailed := blocked[key]
		mu.Unlock()
		g.Go(func() error {
			for _, st := range steps {
				err := st.err
				switch {
				case err != nil:
				case firstFailed != 0 && st.item.ID > firstFailed:
					err = fmt.Errorf("waiting for failed queue item #%d", firstFailed)
				default:
					p := &pusher{ctx: ctx, store: s.store, remote: s.remote, queueID: st.item.ID}
					err = st.action.push(p)
				}
				if err != nil && firstFailed == 0 {
					firstFailed = st.item.ID
					mu.Lock()
					blocked[key] = firstFailed
					mu.Unlock()
				}
				if err := s.settle(ctx, st.item, err, &mu, res); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// settle zapisuje wynik jednej pozycji kolejki
func (s *Syncer) settle(ctx context.Context, it db.SyncQueueItem, pushErr error, mu *sync.Mutex, res *Result) error {
	if pushErr == nil {
		if err := s.store.MarkQueueItemSynced(ctx, it.ID); err != nil {
			return fmt.Errorf("mark queue item %d synced: %w", it.ID, err)
		}
		mu.Lock()
		res.Pushed++
		mu.Unlock()
		return nil
	}

	s.log.Warn().Err(pushErr).
		Uint("queue_id", it.ID).
		Str("type", string(it.Type)).
		Str("action", string(it.Action)).
		Int("attempt", it.Attempts+1).
		Msg("sync item failed")
	if err := s.store.MarkQueueItemError(ctx, it.ID, pushErr.Error()); err != nil {
		return fmt.Errorf("mark queue item %d error: %w", it.ID, err)
	}
	s.status.AddError(status.ErrItemFailed, fmt.Sprintf("%s/%s #%d: %v", it.Type, it.Action, it.ID, pushErr))
	mu.Lock()
	res.Failed++
	mu.Unlock()
	return nil
}

// blockedEntities: encje z wcześniejszą nieudaną akcją; późniejsze akcje czekają na nią
func (s *Syncer) blockedEntities(ctx context.Context) (map[string]uint, error) {
	failed, err := s.store.ListQueue(ctx, db.QueueError)
	if err != nil {
		return nil, err
	}
	out := map[string]uint{}
	for _, it := range failed {
		a, err := Decode(it)
		if err != nil {
			continue
		}
		if _, ok := out[a.entity()]; !ok {
			out[a.entity()] = it.ID
		}
	}
	return out, nil
}
