package httpapi

import (
	"net/http"

	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Pull handles GET /v1/sync/{table}/pull?cursor=&limit=.
// An unreadable cursor restarts the table from the beginning.
func (s *Server) Pull(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	logger := log.Ctx(r.Context())

	limit := parseLimit(r.URL.Query().Get("limit"), defaultPullLimit, maxPullLimit)

	raw := r.URL.Query().Get("cursor")
	cursor, ok := syncx.DecodeCursor(raw)
	if !ok && raw != "" {
		logger.Warn().Str("table", table).Str("cursor", raw).Msg("invalid cursor, pulling from start")
	}

	resp, err := s.Tables.Pull(r.Context(), table, cursor, limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	logger.Debug().
		Str("table", table).
		Int("upserts", len(resp.Upserts)).
		Int("deletes", len(resp.Deletes)).
		Msg("pull served")
	writeJSON(w, http.StatusOK, resp)
}
