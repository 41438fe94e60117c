package dialog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a paused invocation stays resumable without an
// answer.
const DefaultTTL = 5 * time.Minute

// SweepInterval is the recommended cadence for the background expiry sweep.
// It must be shorter than the TTL so stale entries are bounded; Get enforces
// the TTL on read regardless, so the sweep only reclaims memory.
const SweepInterval = time.Minute

// PendingInvocation is the saved state of a paused invocation attempt.
// It is owned exclusively by the PendingStore; callers receive copies.
type PendingInvocation struct {
	// Operation is the catalog operation key.
	Operation string
	// Args is the argument map accumulated so far.  Merging answers only
	// adds or overwrites keys, never removes them.
	Args map[string]string
	// Missing is the missing-field list computed at the last validation.
	Missing []MissingField
	// CreatedAt is when this state was stored (each resume stores fresh
	// state under a fresh token, so the TTL clock restarts per turn).
	CreatedAt time.Time
}

// PendingStore holds paused invocations keyed by resume token.  It is the
// only shared mutable state in the dialog core and is safe for concurrent
// use from unrelated conversations; operations on a single token are assumed
// single-writer (the conversation that owns it).
//
// The store is constructed once at startup and passed by handle — there is
// deliberately no package-level instance.
type PendingStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*PendingInvocation
}

// NewPendingStore creates a store with the given TTL; pass 0 for DefaultTTL.
func NewPendingStore(ttl time.Duration) *PendingStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PendingStore{
		ttl:     ttl,
		entries: make(map[string]*PendingInvocation),
	}
}

// newToken mints an opaque, unique, time-ordered resume token.
func newToken() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("mint resume token: %w", err)
	}
	return id.String(), nil
}

// Put stores state under token, stamping CreatedAt.
func (s *PendingStore) Put(token string, state PendingInvocation) {
	s.putAt(token, state, time.Now())
}

func (s *PendingStore) putAt(token string, state PendingInvocation, now time.Time) {
	state.CreatedAt = now
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = &state
}

// Get returns a copy of the state for token.  An entry older than the TTL is
// treated as absent (and dropped) even if the sweep has not run yet.
func (s *PendingStore) Get(token string) (PendingInvocation, bool) {
	return s.getAt(token, time.Now())
}

func (s *PendingStore) getAt(token string, now time.Time) (PendingInvocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok {
		return PendingInvocation{}, false
	}
	if now.Sub(entry.CreatedAt) > s.ttl {
		delete(s.entries, token)
		return PendingInvocation{}, false
	}
	return clonePending(entry), true
}

// Delete removes token's state.  Deleting an unknown token is a no-op: a
// sweep racing a resume may have removed it first, and both outcomes mean
// "this token is no longer usable".
func (s *PendingStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// Sweep removes every entry older than the TTL as of now and returns how
// many were removed.
func (s *PendingStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.ttl {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries (stale ones included until swept).
func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// clonePending deep-copies an entry so callers never alias store-owned maps.
func clonePending(p *PendingInvocation) PendingInvocation {
	out := PendingInvocation{
		Operation: p.Operation,
		Args:      cloneArgs(p.Args),
		CreatedAt: p.CreatedAt,
	}
	out.Missing = make([]MissingField, len(p.Missing))
	copy(out.Missing, p.Missing)
	return out
}

// cloneArgs copies a flat argument map; nil in, empty map out.
func cloneArgs(args map[string]string) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
