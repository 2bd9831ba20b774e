// Package crud defines the mutation journal contract shared by the local
// store (which produces entries) and the remote connector (which drains them).
package crud

import (
	"context"
	"errors"
	"fmt"
)

// Op is the kind of a journaled mutation
type Op string

const (
	OpPut    Op = "PUT"    // upsert of the full row
	OpPatch  Op = "PATCH"  // partial update by id
	OpDelete Op = "DELETE" // delete by id
)

// ErrAlreadyCompleted is returned when Complete is called twice on the same transaction
var ErrAlreadyCompleted = errors.New("crud transaction already completed")

// Valid reports whether o is one of the known operation kinds
func (o Op) Valid() bool {
	switch o {
	case OpPut, OpPatch, OpDelete:
		return true
	}
	return false
}

// Entry is one pending local change.
// Data is nil for DELETE and may be empty for PATCH.
type Entry struct {
	ID    int64          `json:"id"`
	TxID  int64          `json:"txId"`
	Op    Op             `json:"op"`
	Table string         `json:"table"`
	RowID string         `json:"rowId"`
	Data  map[string]any `json:"data,omitempty"`
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s/%s", e.Op, e.Table, e.RowID)
}

// Transaction is an ordered batch of entries that is drained together.
// Complete permanently removes every entry of the transaction and must be
// called exactly once, after all entries were applied or judged fatal.
type Transaction interface {
	TxID() int64
	Entries() []Entry
	Complete(ctx context.Context) error
}

// Source hands out the oldest not-yet-completed transaction.
// A nil Transaction with a nil error means the journal is empty.
type Source interface {
	NextCrudTransaction(ctx context.Context) (Transaction, error)
}
