package matrix

// syncstore.go adapts the SQLite sync-state table to mautrix.SyncStore.
// Persisting next_batch across restarts keeps the bot from replaying room
// history and re-running operations that already executed.

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Towa/internal/towa/store"
)

var _ mautrix.SyncStore = (*SyncStore)(nil)

// SyncStore persists mautrix sync state through the Towa store.
type SyncStore struct {
	store *store.Store
}

// NewSyncStore wraps st as a mautrix.SyncStore.
func NewSyncStore(st *store.Store) *SyncStore {
	return &SyncStore{store: st}
}

// SaveFilterID persists the event-filter ID for userID.
func (s *SyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.store.SetSyncState(ctx, stateKey(userID, "filter_id"), filterID)
}

// LoadFilterID returns the persisted filter ID, or "" before the first save.
func (s *SyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.store.GetSyncState(ctx, stateKey(userID, "filter_id"))
}

// SaveNextBatch persists the opaque /sync position token.
func (s *SyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.store.SetSyncState(ctx, stateKey(userID, "next_batch"), nextBatchToken)
}

// LoadNextBatch returns the last saved position, or "" on first run.
func (s *SyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.store.GetSyncState(ctx, stateKey(userID, "next_batch"))
}

func stateKey(userID id.UserID, key string) string {
	return fmt.Sprintf("matrix/%s/%s", userID, key)
}
