// Package remote talks to the remote backend: the table REST API used to
// replay local mutations, the pull API and change feed used for downloads,
// and a direct PostgreSQL backend for trusted deployments.
package remote

import "context"

// Backend applies single-row mutations to the remote tables
type Backend interface {
	// Upsert inserts record or merges it into the row with the same id
	Upsert(ctx context.Context, table string, record map[string]any) error
	// Update merges partial into the row with the given id
	Update(ctx context.Context, table string, partial map[string]any, id string) error
	// Delete removes the row with the given id
	Delete(ctx context.Context, table, id string) error
}

// TokenSource provides bearer tokens for requests
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	// Invalidate marks the current token as rejected so the next call refreshes it
	Invalidate()
}

// StaticToken is a TokenSource returning a fixed token
type StaticToken string

// AccessToken returns the token, or ErrNoToken when empty
func (t StaticToken) AccessToken(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// Invalidate is a no-op for a fixed token
func (StaticToken) Invalidate() {}
