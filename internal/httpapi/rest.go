package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds a single row payload
const maxBodyBytes = 1 << 20

// UpsertRow handles POST /rest/v1/{table}.
// A row with an existing id is merged (Prefer: resolution=merge-duplicates).
func (s *Server) UpsertRow(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	logger := log.Ctx(r.Context())

	record, ok := decodeRow(w, r)
	if !ok {
		return
	}

	item, err := s.Tables.Upsert(r.Context(), auth.UserID(r.Context()), table, record)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	logger.Debug().Str("table", table).Str("id", item.ID).Int("version", item.Version).Msg("row upserted")
	s.notify(table, item.ID)
	writeJSON(w, http.StatusCreated, item)
}

// PatchRow handles PATCH /rest/v1/{table}?id=eq.{id}.
// Patching a missing row changes nothing and still succeeds.
func (s *Server) PatchRow(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	id, ok := rowFilter(w, r)
	if !ok {
		return
	}
	partial, ok := decodeRow(w, r)
	if !ok {
		return
	}

	item, err := s.Tables.Patch(r.Context(), table, id, partial)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if item != nil {
		s.notify(table, id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRow handles DELETE /rest/v1/{table}?id=eq.{id}
func (s *Server) DeleteRow(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	id, ok := rowFilter(w, r)
	if !ok {
		return
	}

	deleted, err := s.Tables.Delete(r.Context(), table, id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if deleted {
		s.notify(table, id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// rowFilter reads the id=eq.{id} filter, the only one supported
func rowFilter(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := strings.CutPrefix(r.URL.Query().Get("id"), "eq.")
	if !ok || id == "" {
		writeJSON(w, http.StatusBadRequest, apiError{
			Code:    codeInvalidParameter,
			Message: "missing row filter",
			Hint:    "use ?id=eq.<id>",
		})
		return "", false
	}
	return id, true
}

func decodeRow(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var row map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&row); err != nil || row == nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeInvalidParameter, Message: "invalid json body"})
		return nil, false
	}
	return row, true
}
