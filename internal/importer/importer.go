// Package importer wciąga eksporty towarów z PC-Market (exp_wyk_*.xml) do lokalnej bazy kasy.
package importer

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	conf "github.com/bartek5186/posync/internal/config"
	"github.com/bartek5186/posync/internal/db"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// statusy w import_files
const (
	StatusPending = 0
	StatusDone    = 1
	StatusError   = 2
)

const saveChunk = 500

type Importer struct {
	log   zerolog.Logger
	cfg   conf.Importer
	store *db.Handle

	// ile czekać na koniec kopiowania pliku po zdarzeniu fsnotify
	settle time.Duration
}

func New(log zerolog.Logger, store *db.Handle, cfg conf.Importer) *Importer {
	return &Importer{log: log, cfg: cfg, store: store, settle: time.Second}
}

func (i *Importer) Dir() string { return expandHome(i.cfg.WatchDir) }

func (i *Importer) interval() time.Duration {
	if i.cfg.PollSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(i.cfg.PollSec) * time.Second
}

// Run obserwuje katalog (fsnotify) i dodatkowo skanuje go co poll_sec,
// bo zdarzenia z udziałów sieciowych potrafią nie dojść.
func (i *Importer) Run(ctx context.Context) error {
	dir := i.Dir()
	if dir == "" {
		return errors.New("importer: brak watch_dir w configu")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("importer: katalog %s: %w", dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	i.log.Info().Str("dir", dir).Dur("poll", i.interval()).Msg("Importer: start")
	i.scanLogged(ctx, dir)

	ticker := time.NewTicker(i.interval())
	defer ticker.Stop()
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			i.log.Info().Msg("Importer: stop")
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if isExport(filepath.Base(ev.Name)) {
				settle = time.After(i.settle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			i.log.Warn().Err(err).Msg("fsnotify")
		case <-settle:
			settle = nil
			i.scanLogged(ctx, dir)
		case <-ticker.C:
			i.scanLogged(ctx, dir)
		}
	}
}

func (i *Importer) scanLogged(ctx context.Context, dir string) {
	if _, err := i.Scan(ctx, dir); err != nil {
		i.log.Error().Err(err).Str("dir", dir).Msg("nie mogę odczytać katalogu")
	}
}

func isExport(name string) bool {
	return strings.HasPrefix(name, "exp_wyk_") && strings.HasSuffix(strings.ToLower(name), ".xml")
}

// Scan przetwarza wszystkie nowe pliki z katalogu (po nazwie, rosnąco). Zwraca liczbę
// przetworzonych plików; błąd pojedynczego pliku ląduje w import_files, nie tutaj.
func (i *Importer) Scan(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isExport(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	done := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		ok, err := i.ImportFile(ctx, filepath.Join(dir, name))
		if err != nil {
			i.log.Error().Err(err).Str("file", name).Msg("błąd przetwarzania pliku")
			continue
		}
		if ok {
			done++
		}
	}
	return done, nil
}

// ImportFile rejestruje i przetwarza jeden plik. false = plik już był przetworzony.
func (i *Importer) ImportFile(ctx context.Context, path string) (bool, error) {
	name := filepath.Base(path)
	rec, err := i.registerFile(ctx, path)
	if err != nil {
		return false, fmt.Errorf("rejestracja pliku: %w", err)
	}
	if rec.Status == StatusDone {
		i.log.Debug().Str("file", name).Msg("plik już był i DONE — pomijam")
		return false, nil
	}

	n, err := i.processFile(ctx, rec, path)
	if err != nil {
		_ = i.store.DB.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", rec.ImportID).
			Updates(map[string]any{"status": StatusError, "last_error": err.Error()}).Error
		return false, err
	}

	now := time.Now()
	if err := i.store.DB.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", rec.ImportID).
		Updates(map[string]any{"status": StatusDone, "products": n, "last_error": "", "processed_at": now}).Error; err != nil {
		return true, err
	}
	i.log.Info().Str("file", name).Uint("import_id", rec.ImportID).Int("products", n).Msg("przetworzono OK")
	return true, nil
}

// registerFile: idempotencja po SHA albo nazwie pliku. Zmieniona treść pod tą samą
// nazwą (plik dopisany w trakcie kopiowania) nadpisuje SHA i wraca do pending.
func (i *Importer) registerFile(ctx context.Context, path string) (*db.ImportFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	sum, err := fileSHA256(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	gdb := i.store.DB.WithContext(ctx)

	var existing db.ImportFile
	err = gdb.Where("sha256 = ? OR filename = ?", sum, name).Take(&existing).Error
	switch {
	case err == nil:
		if existing.SHA256 != sum && existing.Status != StatusDone {
			existing.SHA256 = sum
			existing.SizeBytes = fi.Size()
			existing.Status = StatusPending
			if err := gdb.Save(&existing).Error; err != nil {
				return nil, err
			}
		}
		return &existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	rec := db.ImportFile{
		Filename:  name,
		SHA256:    sum,
		SizeBytes: fi.Size(),
		Status:    StatusPending,
	}
	if err := gdb.Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (i *Importer) processFile(ctx context.Context, rec *db.ImportFile, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	exp, err := ParseExport(bufio.NewReader(f))
	if err != nil {
		return 0, fmt.Errorf("parse xml: %w", err)
	}
	if exp.TransmisjaID != "" {
		_ = i.store.DB.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", rec.ImportID).
			Update("transmisja_id", exp.TransmisjaID).Error
	}

	// produkty w paczkach, każda paczka = jedna transakcja z wpisami kolejki
	for start := 0; start < len(exp.Products); start += saveChunk {
		end := min(start+saveChunk, len(exp.Products))
		if err := i.store.SaveProducts(ctx, exp.Products[start:end]...); err != nil {
			return start, err
		}
	}
	for _, id := range exp.Removed {
		if err := i.store.DeleteProduct(ctx, id); err != nil {
			return len(exp.Products), err
		}
	}

	i.log.Debug().
		Uint("import_id", rec.ImportID).
		Str("transmisja_id", exp.TransmisjaID).
		Int("products", len(exp.Products)).
		Int("removed", len(exp.Removed)).
		Msg("XML sparsowany")
	return len(exp.Products), nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
