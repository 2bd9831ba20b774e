package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/rs/zerolog/log"
)

type tokenReq struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

// Token handles POST /auth/v1/token?grant_type=password|refresh_token
func (s *Server) Token(w http.ResponseWriter, r *http.Request) {
	var body tokenReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}

	var (
		resp  *auth.TokenResponse
		err   error
		grant = r.URL.Query().Get("grant_type")
	)
	switch grant {
	case "password":
		resp, err = s.Issuer.PasswordGrant(body.Email, body.Password)
	case "refresh_token":
		resp, err = s.Issuer.RefreshGrant(body.RefreshToken)
	default:
		writeError(w, r, http.StatusBadRequest, "unsupported grant_type")
		return
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidRefreshToken):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Ctx(r.Context()).Error().Err(err).Str("grant", grant).Msg("failed to issue token")
		writeError(w, r, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
