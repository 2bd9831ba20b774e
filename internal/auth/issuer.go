package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultAccessTTL is the lifetime of issued access tokens
const DefaultAccessTTL = time.Hour

// TokenResponse is the token endpoint's response body
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

// Issuer signs HS256 access tokens and keeps rotating refresh tokens in memory.
// Refresh tokens do not survive a restart; clients sign in again.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	// Verify checks a password sign-in and returns the subject
	Verify func(email, password string) (string, bool)

	mu      sync.Mutex
	refresh map[string]string // refresh token -> subject
}

// NewIssuer creates an issuer signing with secret
func NewIssuer(secret string, ttl time.Duration, verify func(email, password string) (string, bool)) *Issuer {
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	return &Issuer{
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
		Verify:  verify,
		refresh: make(map[string]string),
	}
}

// StaticUsers returns a verifier for a fixed email/password table; the
// email is the subject
func StaticUsers(users map[string]string) func(email, password string) (string, bool) {
	return func(email, password string) (string, bool) {
		want, ok := users[email]
		if !ok || want != password {
			return "", false
		}
		return email, true
	}
}

// PasswordGrant signs in with email and password
func (i *Issuer) PasswordGrant(email, password string) (*TokenResponse, error) {
	if i.Verify == nil {
		return nil, ErrInvalidCredentials
	}
	sub, ok := i.Verify(email, password)
	if !ok {
		log.Warn().Str("email", email).Msg("rejected sign-in")
		return nil, ErrInvalidCredentials
	}
	return i.Issue(sub)
}

// RefreshGrant exchanges a refresh token for new tokens; the old refresh
// token stops working
func (i *Issuer) RefreshGrant(refreshToken string) (*TokenResponse, error) {
	i.mu.Lock()
	sub, ok := i.refresh[refreshToken]
	delete(i.refresh, refreshToken)
	i.mu.Unlock()

	if !ok {
		return nil, ErrInvalidRefreshToken
	}
	return i.Issue(sub)
}

// Issue signs a new access token for sub and registers a refresh token
func (i *Issuer) Issue(sub string) (*TokenResponse, error) {
	now := i.now()
	exp := now.Add(i.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return nil, err
	}

	refresh := uuid.NewString()
	i.mu.Lock()
	i.refresh[refresh] = sub
	i.mu.Unlock()

	resp := &TokenResponse{
		AccessToken:  signed,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(i.ttl.Seconds()),
		ExpiresAt:    exp.Unix(),
	}
	resp.User.ID = sub
	return resp, nil
}
