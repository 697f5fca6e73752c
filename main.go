//go:build windows && !dev

package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/bartek5186/posync/internal/app"
	"github.com/bartek5186/posync/internal/status"
	"github.com/getlantern/systray"
)

//go:embed assets/icon.ico
var iconData []byte

// wersję możesz nadpisać przez: -ldflags "-X 'main.ver=1.0.1'"
var ver = "1.0.0"

func main() {
	// katalog danych aplikacji (logi, config, baza)
	appDir, err := app.AppDataDir("posync")
	if err != nil {
		panic(err)
	}
	a, err := app.Open(appDir, false)
	if err != nil {
		panic(err)
	}
	defer a.Close()
	log := a.Log

	// kontekst sterujący życiem procesu (CTRL+C / zamknięcie sesji)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := a.Background(ctx); err != nil {
			log.Error().Err(err).Msg("komponenty w tle")
		}
	}()

	// jeśli proces dostanie sygnał – zatrzymaj syncer i zamknij tray
	go func() {
		<-ctx.Done()
		a.Syncer.Stop()
		systray.Quit()
	}()

	systray.Run(func() {
		// onReady
		if len(iconData) > 0 {
			systray.SetIcon(iconData)
		}
		systray.SetTooltip(fmt.Sprintf("POS Sync %s", ver))

		mStatus := systray.AddMenuItem("Status: …", "Stan synchronizacji")
		mStatus.Disable()
		mSyncNow := systray.AddMenuItem("Synchronizuj teraz", "Wymuś synchronizację (ponawia błędy)")
		systray.AddSeparator()
		mStart := systray.AddMenuItem("Start synchronizacji", "Uruchom harmonogram")
		mStop := systray.AddMenuItem("Stop synchronizacji", "Zatrzymaj harmonogram")
		mStop.Disable()

		systray.AddSeparator()
		mOpenLogs := systray.AddMenuItem("Otwórz logi", "Pokaż plik log")
		mOpenCfg := systray.AddMenuItem("Ustawienia (config.json)", "Otwórz plik konfiguracyjny")
		mReload := systray.AddMenuItem("Przeładuj konfigurację", "Wczytaj ponownie config.json")
		systray.AddSeparator()
		mAbout := systray.AddMenuItem(fmt.Sprintf("O programie (%s)", ver), "")
		mQuit := systray.AddMenuItem("Wyjście", "Zamknij aplikację")

		// AutoStart harmonogramu (nie mylić z autostartem Windows!)
		if a.Config().AutoStart {
			if err := a.Syncer.Start(ctx); err == nil {
				mStart.Disable()
				mStop.Enable()
			} else {
				log.Error().Msgf("AutoStart nieudany: %v", err)
			}
		}

		// status store -> tooltip i pierwsza pozycja menu
		go func() {
			updates, unsubscribe := a.Status.Subscribe()
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case snap, ok := <-updates:
					if !ok {
						return
					}
					line := statusLine(snap)
					mStatus.SetTitle(line)
					systray.SetTooltip(fmt.Sprintf("POS Sync %s — %s", ver, line))
				}
			}
		}()

		go func() {
			for {
				select {
				case <-mSyncNow.ClickedCh:
					go func() {
						if _, err := a.Syncer.ForceSync(ctx); err != nil {
							log.Error().Err(err).Msg("Synchronizuj teraz")
						}
					}()

				case <-mStart.ClickedCh:
					if err := a.Syncer.Start(ctx); err != nil {
						log.Error().Msgf("Start error: %v", err)
						continue
					}
					mStart.Disable()
					mStop.Enable()

				case <-mStop.ClickedCh:
					a.Syncer.Stop()
					mStop.Disable()
					mStart.Enable()

				case <-mOpenLogs.ClickedCh:
					openInExplorer(a.LogPath)

				case <-mOpenCfg.ClickedCh:
					openInExplorer(a.CfgPath)

				case <-mReload.ClickedCh:
					if err := a.Reload(); err != nil {
						log.Error().Msgf("Błąd reloadu: %v", err)
					}

				case <-mAbout.ClickedCh:
					log.Info().Msgf("POS Sync %s | %s", ver, runtime.Version())

				case <-mQuit.ClickedCh:
					// łagodne zamykanie
					cancel()
					a.Syncer.Stop()
					systray.Quit()
					return
				}
			}
		}()
	}, func() {
		// onExit — daj chwilę loggerowi na flush
		time.Sleep(50 * time.Millisecond)
	})
}

func statusLine(s status.Snapshot) string {
	var state string
	switch s.Status {
	case status.Synced:
		state = "zsynchronizowano"
	case status.Pending:
		state = "oczekuje"
	case status.Syncing:
		state = "synchronizacja…"
	case status.Offline:
		state = "offline"
	case status.Error:
		state = "błąd"
	default:
		state = string(s.Status)
	}
	line := fmt.Sprintf("Status: %s, w kolejce: %d", state, s.PendingCount)
	if s.OverCapacity {
		line += " (przekroczony limit)"
	}
	return line
}

// przenośne otwieranie plików/katalogów w domyślnej aplikacji
func openInExplorer(path string) {
	switch runtime.GOOS {
	case "windows":
		// "start" musi być uruchomiony przez cmd /C, z pustym tytułem okna ""
		_ = exec.Command("cmd", "/C", "start", "", path).Start()
	case "darwin":
		_ = exec.Command("open", path).Start()
	default:
		_ = exec.Command("xdg-open", path).Start()
	}
}
