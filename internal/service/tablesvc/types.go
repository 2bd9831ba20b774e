package tablesvc

import "errors"

// ErrNotFound is returned by Get when no row (live or tombstoned) exists
var ErrNotFound = errors.New("row not found")

// Item represents a single row with sync metadata exposed
type Item struct {
	ID        string         `json:"id"`
	Table     string         `json:"table"`
	Version   int            `json:"version"`
	UpdatedAt string         `json:"updatedAt"`
	DeletedAt *string        `json:"deletedAt,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// Tombstone is a deleted row in a pull response
type Tombstone struct {
	ID        string `json:"id"`
	DeletedAt string `json:"deletedAt"`
}

// PullResponse represents the response from a pull operation
type PullResponse struct {
	Upserts    []map[string]any `json:"upserts"`
	Deletes    []Tombstone      `json:"deletes"`
	NextCursor *string          `json:"nextCursor,omitempty"`
}
