// Package diagnostics serves a local HTTP endpoint for inspecting and
// nudging the sync layer of a running client.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/erauner12/fieldsync/internal/offline"
	"github.com/erauner12/fieldsync/internal/syncsession"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Session is the part of the session manager the endpoint exposes
type Session interface {
	Snapshot() syncsession.Snapshot
	ForceResync(ctx context.Context) (syncsession.Snapshot, error)
}

// Pending is the part of the offline guarantee the endpoint exposes
type Pending interface {
	Pending(ctx context.Context) ([]offline.PendingInsert, error)
	SyncPendingInserts(ctx context.Context) offline.Report
}

// Server holds dependencies for the diagnostics handlers
type Server struct {
	Session Session
	Pending Pending
	// CrudCount reports queued local mutations; optional
	CrudCount func(ctx context.Context) (int, error)
}

// Status is the body of GET /debug/status
type Status struct {
	Session      syncsession.Snapshot `json:"session"`
	PendingCount int                  `json:"pendingCount"`
	CrudCount    int                  `json:"crudCount"`
}

type errorResp struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// Routes creates the diagnostics router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	r.Route("/debug", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/pending", s.listPending)
		r.Post("/pending/sync", s.syncPending)
		r.Post("/resync", s.resync)
	})
	return r
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st := Status{Session: s.Session.Snapshot()}

	pending, err := s.Pending.Pending(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	st.PendingCount = len(pending)

	if s.CrudCount != nil {
		n, err := s.CrudCount(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		st.CrudCount = n
	}

	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.Pending.Pending(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if pending == nil {
		pending = []offline.PendingInsert{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) syncPending(w http.ResponseWriter, r *http.Request) {
	report := s.Pending.SyncPendingInserts(r.Context())
	log.Info().
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Msg("pending sync requested over diagnostics")
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) resync(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Session.ForceResync(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
