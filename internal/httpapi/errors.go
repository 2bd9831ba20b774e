package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// apiError is the error body of every endpoint. Code carries the
// PostgreSQL SQLSTATE when the database rejected the request.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// SQLSTATE used when the request itself is malformed
const codeInvalidParameter = "22023"

// writeError writes a plain error body
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	log.Ctx(r.Context()).Debug().Int("status", status).Str("path", r.URL.Path).Msg(message)
	writeJSON(w, status, apiError{Message: message})
}

// writeStoreError maps a table store failure to a response, keeping the
// SQLSTATE so clients can tell permanent rejections from outages
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.Ctx(r.Context())

	if errors.Is(err, syncx.ErrMissingID) {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeInvalidParameter, Message: err.Error()})
		return
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		status := statusForCode(pgErr.Code)
		logger.Warn().
			Str("code", pgErr.Code).
			Str("constraint", pgErr.ConstraintName).
			Int("status", status).
			Msg(pgErr.Message)
		writeJSON(w, status, apiError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Details: pgErr.Detail,
			Hint:    pgErr.Hint,
		})
		return
	}

	logger.Error().Err(err).Str("path", r.URL.Path).Msg("table store failed")
	writeJSON(w, http.StatusInternalServerError, apiError{Message: "internal error"})
}

// statusForCode follows the PostgREST mapping of SQLSTATE classes
func statusForCode(code string) int {
	switch {
	case code == "42501":
		return http.StatusForbidden
	case strings.HasPrefix(code, "23"):
		return http.StatusConflict
	case strings.HasPrefix(code, "22"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
