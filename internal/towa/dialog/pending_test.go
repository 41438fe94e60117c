package dialog

import (
	"testing"
	"time"
)

func TestPendingStore_PutGetDelete(t *testing.T) {
	s := NewPendingStore(DefaultTTL)

	s.Put("tok-1", PendingInvocation{
		Operation: "jobs.launch",
		Args:      map[string]string{"limit": "web"},
		Missing:   []MissingField{{Name: "template_id", Required: true}},
	})

	got, ok := s.Get("tok-1")
	if !ok {
		t.Fatal("expected entry for tok-1")
	}
	if got.Operation != "jobs.launch" {
		t.Errorf("operation = %q", got.Operation)
	}
	if got.Args["limit"] != "web" {
		t.Errorf("args = %v", got.Args)
	}
	if len(got.Missing) != 1 || got.Missing[0].Name != "template_id" {
		t.Errorf("missing = %v", got.Missing)
	}

	s.Delete("tok-1")
	if _, ok := s.Get("tok-1"); ok {
		t.Error("expected tok-1 gone after Delete")
	}
}

func TestPendingStore_GetReturnsCopy(t *testing.T) {
	s := NewPendingStore(DefaultTTL)
	s.Put("tok", PendingInvocation{Operation: "jobs.get", Args: map[string]string{}})

	first, _ := s.Get("tok")
	first.Args["job_id"] = "99"

	second, _ := s.Get("tok")
	if _, leaked := second.Args["job_id"]; leaked {
		t.Error("mutating a returned copy must not affect stored state")
	}
}

func TestPendingStore_TTLEnforcedOnRead(t *testing.T) {
	s := NewPendingStore(5 * time.Minute)
	now := time.Now()

	s.putAt("stale", PendingInvocation{Operation: "jobs.get"}, now.Add(-6*time.Minute))
	s.putAt("fresh", PendingInvocation{Operation: "jobs.get"}, now.Add(-4*time.Minute))

	// No sweep has run; the read itself must reject the stale entry.
	if _, ok := s.getAt("stale", now); ok {
		t.Error("stale entry must read as absent before any sweep")
	}
	if _, ok := s.getAt("fresh", now); !ok {
		t.Error("fresh entry must still be readable")
	}
}

func TestPendingStore_Sweep(t *testing.T) {
	s := NewPendingStore(5 * time.Minute)
	now := time.Now()

	s.putAt("a", PendingInvocation{Operation: "jobs.get"}, now.Add(-10*time.Minute))
	s.putAt("b", PendingInvocation{Operation: "jobs.get"}, now.Add(-7*time.Minute))
	s.putAt("c", PendingInvocation{Operation: "jobs.get"}, now.Add(-time.Minute))

	if removed := s.Sweep(now); removed != 2 {
		t.Errorf("expected 2 entries swept, got %d", removed)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 survivor, got %d", s.Len())
	}
	if _, ok := s.getAt("c", now); !ok {
		t.Error("fresh entry must survive the sweep")
	}
}

func TestPendingStore_DeleteUnknownIsNoop(t *testing.T) {
	s := NewPendingStore(DefaultTTL)
	s.Delete("never-stored") // must not panic or error
}

func TestNewToken_UniqueAndOrdered(t *testing.T) {
	seen := make(map[string]struct{})
	var prev string
	for i := 0; i < 100; i++ {
		tok, err := newToken()
		if err != nil {
			t.Fatalf("newToken: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = struct{}{}
		// UUIDv7 tokens sort by mint time; equal timestamps still differ in
		// their random tail, so strictly prev <= tok only holds per
		// millisecond.  Check non-decreasing prefix ordering instead.
		if prev != "" && tok < prev {
			t.Fatalf("token %q sorts before earlier token %q", tok, prev)
		}
		prev = tok
	}
}
