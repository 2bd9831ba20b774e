package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned when no user is signed in
	ErrNoSession = errors.New("no active session")

	// ErrInvalidCredentials is returned by the issuer for a rejected sign-in
	ErrInvalidCredentials = errors.New("invalid login credentials")

	// ErrInvalidRefreshToken is returned for unknown or already rotated refresh tokens
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// ErrRefreshFailed indicates the token endpoint rejected a refresh or sign-in
type ErrRefreshFailed struct {
	Status int
	Reason string
}

func (e ErrRefreshFailed) Error() string {
	return fmt.Sprintf("token request failed (status %d): %s", e.Status, e.Reason)
}
