package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bartek5186/posync/internal/db"
	"github.com/bartek5186/posync/internal/remote"
	"github.com/bartek5186/posync/internal/status"
)

// pullKinds: zamówienia, tickety, płatności i sesje są tylko wysyłane
var pullKinds = map[string]db.Kind{
	string(db.KindProduct):  db.KindProduct,
	string(db.KindCategory): db.KindCategory,
	string(db.KindUser):     db.KindUser,
	string(db.KindCustomer): db.KindCustomer,
}

// pull ściąga zmiany od kursora. Błąd jednego rodzaju nie przerywa pozostałych.
func (s *Syncer) pull(ctx context.Context, kinds []string, res *Result) error {
	since, ok, err := s.store.GetLastSyncTime(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if !ok {
		since = time.Time{}
		s.log.Info().Msg("no checkpoint, full pull")
	}

	for _, name := range kinds {
		n, err := s.pullKind(ctx, name, since)
		if err != nil {
			res.PullErrors[name] = err.Error()
			s.status.AddError(status.ErrPullFailed, fmt.Sprintf("pull %s: %v", name, err))
			s.log.Warn().Err(err).Str("kind", name).Msg("pull failed")
			continue
		}
		res.Pulled[name] = n
	}

	// kursor = początek cyklu, niezależnie od częściowych błędów
	if err := s.store.SetLastSyncTime(ctx, res.Started); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (s *Syncer) pullKind(ctx context.Context, name string, since time.Time) (int, error) {
	kind, ok := pullKinds[name]
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, db.ErrUnknownKind)
	}
	docs, err := s.remote.QueryUpdatedSince(ctx, kind.Collection(), since)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	var records any
	switch kind {
	case db.KindProduct:
		records, err = decodeDocs(docs, func(p *db.Product, id string) { p.ID = id })
	case db.KindCategory:
		records, err = decodeDocs(docs, func(c *db.Category, id string) { c.ID = id })
	case db.KindUser:
		records, err = decodeDocs(docs, func(u *db.User, id string) { u.ID = id })
	case db.KindCustomer:
		records, err = decodeDocs(docs, func(c *db.Customer, id string) { c.ID = id })
	}
	if err != nil {
		return 0, err
	}
	return s.store.UpsertMany(ctx, kind, records)
}

// decodeDocs: id dokumentu jest nadrzędne wobec pola id w treści
func decodeDocs[T any](docs []remote.Document, setID func(*T, string)) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d.Body, &v); err != nil {
			return nil, fmt.Errorf("document %s: %w", d.ID, err)
		}
		setID(&v, d.ID)
		out = append(out, v)
	}
	return out, nil
}
