package localdb

import "time"

// Status is the derived connection status of the replica.
// It is informational; the journal is authoritative for correctness.
type Status struct {
	Connected    bool      `json:"connected"`
	HasSynced    bool      `json:"hasSynced"`
	LastSyncedAt time.Time `json:"lastSyncedAt,omitempty"`
	Uploading    bool      `json:"uploading"`
	Downloading  bool      `json:"downloading"`
	LastError    string    `json:"lastError,omitempty"`
}

// Status returns a snapshot of the current status
func (db *DB) Status() Status {
	db.statusMu.RLock()
	defer db.statusMu.RUnlock()
	return db.status
}

// Connected reports whether the replica is connected to the sync endpoint
func (db *DB) Connected() bool {
	return db.Status().Connected
}

// UpdateStatus applies fn to the status and notifies subscribers if it changed
func (db *DB) UpdateStatus(fn func(*Status)) {
	db.statusMu.Lock()
	before := db.status
	fn(&db.status)
	after := db.status
	subs := db.subscribers
	db.statusMu.Unlock()

	if before == after {
		return
	}
	for _, ch := range subs {
		// Slow subscribers miss intermediate states, never the latest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- after:
		default:
		}
	}
}

// SubscribeStatus returns a channel receiving the latest status after each change
func (db *DB) SubscribeStatus() <-chan Status {
	ch := make(chan Status, 1)
	db.statusMu.Lock()
	db.subscribers = append(db.subscribers, ch)
	db.statusMu.Unlock()
	return ch
}
