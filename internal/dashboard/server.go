// Package dashboard wystawia lokalne API statusu synchronizacji (dla zaplecza i tray-a).
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bartek5186/posync/internal/db"
	"github.com/bartek5186/posync/internal/status"
	"github.com/bartek5186/posync/internal/syncer"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Trigger: wymuszony sync ("sync now").
type Trigger interface {
	ForceSync(ctx context.Context) (*syncer.Result, error)
}

type Server struct {
	log     zerolog.Logger
	status  *status.Store
	store   *db.Handle
	trigger Trigger
}

func New(log zerolog.Logger, st *status.Store, store *db.Handle, trigger Trigger) *Server {
	return &Server{log: log, status: st, store: store, trigger: trigger}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.Status)
		r.Post("/sync", s.Sync)
		r.Get("/queue", s.Queue)
	})
	r.Get("/ws", s.Feed)
	return r
}

// Serve nasłuchuje na addr aż do anulowania ctx.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("Dashboard: start")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Status handles GET /api/status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

// Sync handles POST /api/sync.
func (s *Server) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := s.trigger.ForceSync(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "result": res})
		return
	}
	code := http.StatusOK
	if res.Skipped == syncer.SkipBusy {
		code = http.StatusConflict
	}
	writeJSON(w, code, res)
}

type queueCounts struct {
	Pending int64              `json:"pending"`
	Error   int64              `json:"error"`
	Synced  int64              `json:"synced"`
	Failed  []db.SyncQueueItem `json:"failed"`
}

// Queue handles GET /api/queue: liczniki i wpisy z błędem.
func (s *Server) Queue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var out queueCounts
	var err error
	for st, dst := range map[string]*int64{
		db.QueuePending: &out.Pending,
		db.QueueError:   &out.Error,
		db.QueueSynced:  &out.Synced,
	} {
		if *dst, err = s.store.CountQueue(ctx, st); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	if out.Failed, err = s.store.ListQueue(ctx, db.QueueError); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Feed handles GET /ws: każda zmiana status store idzie do klienta jako JSON.
func (s *Server) Feed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	// klient nic nie wysyła; CloseRead wykrywa rozłączenie
	ctx := conn.CloseRead(r.Context())
	updates, cancel := s.status.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
