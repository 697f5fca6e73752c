// Package app składa komponenty kasy (baza, syncer, łączność, importer, dashboard)
// w jedną całość wspólną dla CLI i tray-a.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	conf "github.com/bartek5186/posync/internal/config"
	"github.com/bartek5186/posync/internal/connectivity"
	"github.com/bartek5186/posync/internal/dashboard"
	"github.com/bartek5186/posync/internal/db"
	"github.com/bartek5186/posync/internal/events"
	"github.com/bartek5186/posync/internal/importer"
	logs "github.com/bartek5186/posync/internal/logs"
	"github.com/bartek5186/posync/internal/remote"
	"github.com/bartek5186/posync/internal/status"
	"github.com/bartek5186/posync/internal/syncer"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	// magazyny zdalne rejestrują się w init()
	_ "github.com/bartek5186/posync/internal/remote/httpdoc"
	_ "github.com/bartek5186/posync/internal/remote/memory"
	_ "github.com/bartek5186/posync/internal/remote/sqldoc"
)

// ErrVolatileRemote: magazyn memory bez remote.allow_volatile.
var ErrVolatileRemote = errors.New("remote store keeps data only in process memory")

type App struct {
	Dir     string
	CfgPath string
	LogPath string

	Log      zerolog.Logger
	Store    *db.Handle
	Remote   remote.Store
	Status   *status.Store
	Syncer   *syncer.Syncer
	Monitor  *connectivity.Monitor
	Importer *importer.Importer // nil gdy watch_dir pusty
	Events   events.Publisher

	mu  sync.Mutex
	cfg *conf.Config
}

// Open wczytuje (albo tworzy) config w dir i podnosi wszystkie komponenty. Nic jeszcze nie startuje.
func Open(dir string, withConsole bool) (*App, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("katalog aplikacji: %w", err)
	}
	a := &App{
		Dir:     dir,
		CfgPath: filepath.Join(dir, "config.json"),
		LogPath: filepath.Join(dir, "app.log"),
	}

	cfg, firstRun, err := conf.LoadOrCreate(a.CfgPath)
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	a.Log = logs.NewRotating(a.LogPath, withConsole && cfg.Log.Console, logs.Rotation{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if firstRun {
		a.Log.Info().Msgf("Utworzono domyślną konfigurację: %s", a.CfgPath)
	}

	dbPath := cfg.Database.File
	if dbPath == "" {
		dbPath = filepath.Join(dir, "posync.db")
	}
	if a.Store, err = db.Open(dbPath, cfg.Database.Driver); err != nil {
		return nil, fmt.Errorf("DB open error: %w", err)
	}
	if err := a.Store.Migrate(); err != nil {
		_ = a.Store.Close()
		return nil, fmt.Errorf("DB migrate error: %w", err)
	}
	a.Log.Info().Str("db", a.Store.Path).Msg("DB ready")

	if cfg.Remote.Kind == "memory" && !cfg.Remote.AllowVolatile {
		_ = a.Store.Close()
		return nil, fmt.Errorf("remote %q (ustaw remote.allow_volatile tylko do testów): %w", cfg.Remote.Kind, ErrVolatileRemote)
	}
	a.Remote, err = remote.Open(cfg.Remote.Kind, a.component("remote"), cfg.RemoteSettings())
	if err != nil {
		_ = a.Store.Close()
		return nil, err
	}

	a.Status = status.New(cfg.MaxOfflineQueue)
	a.Syncer = syncer.New(a.component("syncer"), cfg, a.Store, a.Remote, a.Status)

	a.Events = events.Nop{}
	if cfg.Events.AMQPURL != "" {
		a.Events = events.NewAMQP(a.component("events"), cfg.Events.AMQPURL, cfg.Events.Exchange)
	}
	a.Syncer.SetPublisher(a.Events)

	a.Monitor = connectivity.New(a.component("connectivity"), a.Status, a.Syncer,
		connectivity.ProberFor(a.Remote), cfg.ProbeInterval()).WithTimeout(cfg.ProbeTimeout())

	// status online z sondy przed pierwszym tickiem
	a.Monitor.Probe(context.Background())

	if cfg.Importer.WatchDir != "" {
		a.Importer = importer.New(a.component("importer"), a.Store, cfg.Importer)
	}

	if _, err := a.Syncer.RefreshPending(context.Background()); err != nil {
		a.Log.Warn().Err(err).Msg("refresh pending count")
	}
	return a, nil
}

func (a *App) component(name string) zerolog.Logger {
	return a.Log.With().Str("component", name).Logger()
}

func (a *App) Config() *conf.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Reload wczytuje config.json ponownie i przekazuje go do syncera.
func (a *App) Reload() error {
	cfg, _, err := conf.LoadOrCreate(a.CfgPath)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	a.Syncer.UpdateConfig(cfg)
	a.Log.Info().Msg("Konfiguracja przeładowana")
	return nil
}

// Background uruchamia sondę łączności, importer i dashboard aż do anulowania ctx.
// Harmonogram synchronizacji startuje osobno (Syncer.Start), bo CLI i tray sterują nim ręcznie.
func (a *App) Background(ctx context.Context) error {
	cfg := a.Config()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Monitor.Run(ctx)
		return nil
	})
	if a.Importer != nil {
		g.Go(func() error { return a.Importer.Run(ctx) })
	}
	if cfg.Dashboard.Listen != "" {
		d := dashboard.New(a.component("dashboard"), a.Status, a.Store, a.Syncer)
		g.Go(func() error { return d.Serve(ctx, cfg.Dashboard.Listen) })
	}
	return g.Wait()
}

func (a *App) Close() error {
	a.Syncer.Stop()
	if err := a.Events.Close(); err != nil {
		a.Log.Warn().Err(err).Msg("events close")
	}
	if err := a.Remote.Close(); err != nil {
		a.Log.Warn().Err(err).Msg("remote close")
	}
	return a.Store.Close()
}

// AppDataDir: katalog danych aplikacji (logi, config, baza).
func AppDataDir(name string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	p := filepath.Join(base, name)
	return p, os.MkdirAll(p, 0o755)
}
