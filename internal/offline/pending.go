package offline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// PendingKey is the key-value entry holding the pending list
const PendingKey = "pending_inserts"

// PendingInsert is a write that reached neither the local store nor the
// direct API. It is retried until it succeeds or RetryCount reaches the limit.
type PendingInsert struct {
	ID         string         `json:"id"`
	Query      string         `json:"query"`
	Params     []any          `json:"params"`
	TableName  string         `json:"tableName"`
	Data       map[string]any `json:"data"`
	CreatedAt  string         `json:"createdAt"`
	RetryCount int            `json:"retryCount"`
	Dependents []Write        `json:"dependents,omitempty"`
}

func (p PendingInsert) write() Write {
	return Write{Query: p.Query, Params: p.Params, Table: p.TableName, Data: p.Data}
}

// Pending returns a snapshot of the pending list in enqueue order
func (g *Guarantee) Pending(ctx context.Context) ([]PendingInsert, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.load(ctx)
}

// PendingCount returns the number of queued writes
func (g *Guarantee) PendingCount(ctx context.Context) (int, error) {
	list, err := g.Pending(ctx)
	return len(list), err
}

// The helpers below expect g.mu to be held.

func (g *Guarantee) load(ctx context.Context) ([]PendingInsert, error) {
	raw, ok, err := g.kv.GetItem(ctx, PendingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending list: %w", err)
	}
	if !ok || raw == "" {
		return []PendingInsert{}, nil
	}

	var list []PendingInsert
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		// An unreadable list cannot be retried; start over rather than wedge every write
		log.Error().Err(err).Msg("pending list is corrupt, resetting")
		return []PendingInsert{}, nil
	}
	return list, nil
}

func (g *Guarantee) save(ctx context.Context, list []PendingInsert) error {
	if len(list) == 0 {
		return g.kv.RemoveItem(ctx, PendingKey)
	}
	b, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode pending list: %w", err)
	}
	if err := g.kv.SetItem(ctx, PendingKey, string(b)); err != nil {
		return fmt.Errorf("failed to write pending list: %w", err)
	}
	return nil
}

// appendPending adds rec at the end of the list
func (g *Guarantee) appendPending(ctx context.Context, rec PendingInsert) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	list, err := g.load(ctx)
	if err != nil {
		return err
	}
	if err := g.save(ctx, append(list, rec)); err != nil {
		return err
	}
	g.gen++
	return nil
}

// removePending deletes the record with id, if still present
func (g *Guarantee) removePending(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	list, err := g.load(ctx)
	if err != nil {
		return err
	}
	out := list[:0]
	for _, rec := range list {
		if rec.ID != id {
			out = append(out, rec)
		}
	}
	return g.save(ctx, out)
}

// bumpRetry increments the record's retry count and drops it once the
// count reaches the limit. It reports whether the record was dropped.
func (g *Guarantee) bumpRetry(ctx context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	list, err := g.load(ctx)
	if err != nil {
		return false, err
	}

	dropped := false
	out := list[:0]
	for _, rec := range list {
		if rec.ID == id {
			rec.RetryCount++
			if rec.RetryCount >= g.maxRetries {
				dropped = true
				log.Warn().
					Str("pendingId", rec.ID).
					Str("table", rec.TableName).
					Int("retryCount", rec.RetryCount).
					Msg("dropping pending insert after max retries")
				continue
			}
		}
		out = append(out, rec)
	}
	return dropped, g.save(ctx, out)
}
