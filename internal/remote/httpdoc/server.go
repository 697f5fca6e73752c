package httpdoc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bartek5186/posync/internal/remote"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const maxBody = 4 << 20

// Server wystawia dowolny remote.Store jako API dokumentów (komenda serve-remote).
type Server struct {
	log   zerolog.Logger
	store remote.Store
	key   string
}

func NewServer(log zerolog.Logger, store remote.Store, apiKey string) *Server {
	return &Server{log: log, store: store, key: apiKey}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/{collection}", s.Query)
		r.Post("/{collection}", s.Create)
		r.Put("/{collection}/{id}", s.Put)
		r.Delete("/{collection}/{id}", s.Delete)
	})
	return r
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(remote.Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Query handles GET /v1/{collection}?since=RFC3339.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid since"})
			return
		}
		since = t
	}
	docs, err := s.store.QueryUpdatedSince(r.Context(), chi.URLParam(r, "collection"), since)
	if err != nil {
		s.fail(w, "query", err)
		return
	}
	if docs == nil {
		docs = []remote.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// Create handles POST /v1/{collection}; id nadaje magazyn.
func (s *Server) Create(w http.ResponseWriter, r *http.Request) {
	s.upsert(w, r, "", http.StatusCreated)
}

// Put handles PUT /v1/{collection}/{id}.
func (s *Server) Put(w http.ResponseWriter, r *http.Request) {
	s.upsert(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

// Delete handles DELETE /v1/{collection}/{id}.
func (s *Server) Delete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id")); err != nil {
		s.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) upsert(w http.ResponseWriter, r *http.Request, id string, okStatus int) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil || !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	id, err = s.store.Upsert(r.Context(), chi.URLParam(r, "collection"), id, body)
	if err != nil {
		s.fail(w, "upsert", err)
		return
	}
	writeJSON(w, okStatus, idResponse{ID: id, UpdatedAt: time.Now().UTC()})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.key != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(HeaderAPIKey)), []byte(s.key)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.log.Error().Err(err).Str("op", op).Msg("document store")
	status := http.StatusInternalServerError
	if errors.Is(err, remote.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
