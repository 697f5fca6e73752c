//go:build !windows || dev

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bartek5186/posync/internal/app"
	"github.com/bartek5186/posync/internal/db"
	"github.com/bartek5186/posync/internal/remote"
	"github.com/bartek5186/posync/internal/remote/httpdoc"
	"github.com/spf13/cobra"
)

var ver = "1.0.0"

var appDir string

var rootCmd = &cobra.Command{
	Use:           "posync",
	Short:         "Offline-first POS: lokalna baza kasy i synchronizacja",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       ver,
}

func main() {
	defaultDir, err := app.AppDataDir("posync")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	rootCmd.PersistentFlags().StringVar(&appDir, "dir", defaultDir, "katalog danych (config.json, app.log, posync.db)")
	rootCmd.AddCommand(runCmd, syncCmd, statusCmd, retryCmd, importCmd, serveRemoteCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openApp(withConsole bool) (*app.App, error) {
	return app.Open(appDir, withConsole)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Tryb interaktywny: harmonogram, sonda łączności, importer, dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()
		log := a.Log
		log.Info().Msg("Aplikacja (CLI) uruchomiona")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		go func() {
			if err := a.Background(ctx); err != nil {
				log.Error().Err(err).Msg("komponenty w tle")
			}
		}()

		// AutoStart tak jak w GUI
		if a.Config().AutoStart {
			if err := a.Syncer.Start(ctx); err != nil {
				log.Error().Msgf("AutoStart nieudany: %v", err)
			} else {
				log.Info().Msgf("POS Sync %s — działa", ver)
			}
		}

		// Prosta pętla poleceń w terminalu
		fmt.Println("POS Sync CLI", ver)
		fmt.Println("Komendy: start | stop | sync | online | offline | reload | status | paths | quit")
		lines := make(chan string)
		go func() {
			reader := bufio.NewReader(os.Stdin)
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					close(lines)
					return
				}
				lines <- line
			}
		}()

		for {
			fmt.Print("> ")
			var line string
			select {
			case <-ctx.Done():
				return nil
			case l, ok := <-lines:
				if !ok {
					return nil
				}
				line = l
			}

			switch strings.TrimSpace(strings.ToLower(line)) {
			case "start":
				if err := a.Syncer.Start(ctx); err != nil {
					fmt.Println("Błąd startu:", err)
					continue
				}
				fmt.Println("Start OK")
			case "stop":
				a.Syncer.Stop()
				fmt.Println("Zatrzymano")
			case "sync":
				res, err := a.Syncer.ForceSync(ctx)
				if err != nil {
					fmt.Println("Błąd synchronizacji:", err)
				}
				printJSON(res)
			case "online":
				a.Monitor.Set(ctx, true)
			case "offline":
				a.Monitor.Set(ctx, false)
			case "reload":
				if err := a.Reload(); err != nil {
					fmt.Println("Błąd reloadu:", err)
					continue
				}
				fmt.Println("Konfiguracja przeładowana")
			case "status":
				if a.Syncer.IsRunning() {
					fmt.Println("Harmonogram: DZIAŁA")
				} else {
					fmt.Println("Harmonogram: ZATRZYMANY")
				}
				printJSON(a.Status.Snapshot())
			case "paths":
				fmt.Println("Logi:", a.LogPath)
				fmt.Println("Config:", a.CfgPath)
				fmt.Println("Baza:", a.Store.Path)
			case "quit", "exit":
				cancel()
				a.Syncer.Stop()
				time.Sleep(50 * time.Millisecond)
				return nil
			case "":
				// enter – ignoruj
			default:
				fmt.Println("Nieznana komenda. Użyj: start | stop | sync | online | offline | reload | status | paths | quit")
			}
		}
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Jednorazowa wymuszona synchronizacja (push + pull)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Syncer.ForceSync(cmd.Context())
		printJSON(res)
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Stan kolejki i ostatniej synchronizacji",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		out := map[string]any{}
		for _, st := range []string{db.QueuePending, db.QueueError} {
			n, err := a.Store.CountQueue(ctx, st)
			if err != nil {
				return err
			}
			out[st] = n
		}
		if t, ok, err := a.Store.GetLastSyncTime(ctx); err != nil {
			return err
		} else if ok {
			out["last_sync_time"] = t
		}
		failed, err := a.Store.ListQueue(ctx, db.QueueError)
		if err != nil {
			return err
		}
		out["failed"] = failed
		printJSON(out)
		return nil
	},
}

var retryNow bool

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Przywraca wpisy z błędem do kolejki",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if retryNow {
			res, err := a.Syncer.ForceSync(cmd.Context())
			printJSON(res)
			return err
		}
		n, err := a.Store.RequeueErrored(cmd.Context(), nil)
		if err != nil {
			return err
		}
		fmt.Printf("Przywrócono %d wpisów\n", n)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [plik.xml...]",
	Short: "Import eksportu PC-Market (bez argumentów: skan watch_dir)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		if a.Importer == nil {
			return errors.New("importer wyłączony: ustaw importer.watch_dir w config.json")
		}
		if len(args) == 0 {
			n, err := a.Importer.Scan(ctx, a.Importer.Dir())
			if err != nil {
				return err
			}
			fmt.Printf("Przetworzono plików: %d\n", n)
			return nil
		}
		for _, p := range args {
			ok, err := a.Importer.ImportFile(ctx, p)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(p), err)
			}
			if !ok {
				fmt.Println(filepath.Base(p), "— już zaimportowany")
				continue
			}
			fmt.Println(filepath.Base(p), "— OK")
		}
		return nil
	},
}

var (
	serveAddr string
	serveKind string
	serveKey  string
)

var serveRemoteCmd = &cobra.Command{
	Use:   "serve-remote",
	Short: "Wystawia magazyn dokumentów (memory/sql) po HTTP dla kas w trybie http",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()
		log := a.Log.With().Str("component", "serve-remote").Logger()

		store, err := remote.Open(serveKind, log, a.Config().Remote.Settings[serveKind])
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           httpdoc.NewServer(log, store, serveKey).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		if store.Name() == "memory" {
			log.Warn().Msg("serve-remote: magazyn memory, dokumenty znikną po zamknięciu procesu")
		}
		log.Info().Str("addr", serveAddr).Str("store", store.Name()).Msg("serve-remote: start")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	retryCmd.Flags().BoolVar(&retryNow, "now", false, "od razu uruchom wymuszoną synchronizację")

	serveRemoteCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8090", "adres nasłuchu")
	serveRemoteCmd.Flags().StringVar(&serveKind, "store", "memory", "magazyn za API: memory | sql")
	serveRemoteCmd.Flags().StringVar(&serveKey, "api-key", "change-me", "wymagany nagłówek X-API-Key (puste = bez autoryzacji)")
}
