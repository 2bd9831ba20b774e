package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRefreshBuffer is how long before expiry a session needs refreshing
const DefaultRefreshBuffer = 5 * time.Minute

// Session is the signed-in user's token pair
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UserID       string    `json:"userId"`
}

// IsExpired reports whether the access token has expired at now.
// A zero ExpiresAt never expires.
func (s *Session) IsExpired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// NeedsRefresh reports whether the session expires within buffer of now
func (s *Session) NeedsRefresh(now time.Time, buffer time.Duration) bool {
	if s == nil {
		return false
	}
	return !s.ExpiresAt.IsZero() && !now.Add(buffer).Before(s.ExpiresAt)
}

// Claims are the fields read from an access token
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// ParseClaims reads sub and exp from a JWT without verifying its signature.
// The client only uses them for scheduling; the backend verifies.
func ParseClaims(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("failed to parse access token: %w", err)
	}

	var out Claims
	out.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// sessionFromResponse builds a Session, preferring the token's own claims
func sessionFromResponse(resp *TokenResponse, now time.Time) *Session {
	s := &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		UserID:       resp.User.ID,
	}
	switch {
	case resp.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	if c, err := ParseClaims(resp.AccessToken); err == nil {
		if s.UserID == "" {
			s.UserID = c.Subject
		}
		if s.ExpiresAt.IsZero() {
			s.ExpiresAt = c.ExpiresAt
		}
	}
	return s
}
