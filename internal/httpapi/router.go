package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/service/tablesvc"
	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// TableStore persists rows of the synced tables
type TableStore interface {
	Upsert(ctx context.Context, ownerID, table string, record map[string]any) (*tablesvc.Item, error)
	// Patch returns a nil item when no live row has id
	Patch(ctx context.Context, table, id string, partial map[string]any) (*tablesvc.Item, error)
	Delete(ctx context.Context, table, id string) (bool, error)
	Pull(ctx context.Context, table string, cursor syncx.Cursor, limit int) (*tablesvc.PullResponse, error)
}

// Publisher announces changed rows to change feed clients
type Publisher interface {
	Publish(ev ChangeEvent)
}

// Server holds dependencies for HTTP handlers
type Server struct {
	Tables          TableStore
	TableNames      []string     // advertised by /v1/sync/info
	Issuer          *auth.Issuer // nil disables the token endpoint
	Hub             *Hub         // nil disables the change feed
	Publisher       Publisher    // defaults to Hub
	RateLimitConfig RateLimitInfo
}

const (
	defaultPullLimit = 100
	maxPullLimit     = 1000
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Routes creates the HTTP router with the table REST, pull, token and
// change feed endpoints
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
	r.Get("/v1/sync/info", s.Info)

	if s.Issuer != nil {
		r.Post("/auth/v1/token", s.Token)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))
		if s.RateLimitConfig.MaxRequests > 0 {
			r.Use(RateLimitMiddleware(s.RateLimitConfig))
		}

		r.Post("/rest/v1/{table}", s.UpsertRow)
		r.Patch("/rest/v1/{table}", s.PatchRow)
		r.Delete("/rest/v1/{table}", s.DeleteRow)

		r.Get("/v1/sync/{table}/pull", s.Pull)
		if s.Hub != nil {
			r.Get("/v1/sync/stream", s.Hub.Stream)
		}
	})

	log.Info().Int("tables", len(s.TableNames)).Msg("HTTP routes registered")
	return r
}

// notify announces a changed row on the change feed
func (s *Server) notify(table, id string) {
	ev := ChangeEvent{Table: table, ID: id}
	switch {
	case s.Publisher != nil:
		s.Publisher.Publish(ev)
	case s.Hub != nil:
		s.Hub.Publish(ev)
	}
}
