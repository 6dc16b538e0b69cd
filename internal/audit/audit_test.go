package audit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
	fail    bool
}

func (s *recordingSink) Send(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink exploded")
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func TestRingOverflowDropsOldest(t *testing.T) {
	l := New(Config{MaxEntries: 3})
	l.Log("e1", Success)
	l.Log("e2", Success)
	l.Log("e3", Success)
	l.Log("e4", Success)

	recent := l.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Recent(10) len = %d, want 3", len(recent))
	}
	got := []string{recent[0].Action, recent[1].Action, recent[2].Action}
	want := []string{"e2", "e3", "e4"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
	if l.EntryCount() != 3 {
		t.Fatalf("EntryCount() = %d, want 3", l.EntryCount())
	}
}

func TestRecentPreservesInsertionOrder(t *testing.T) {
	l := New(Config{MaxEntries: 100})
	for i := 0; i < 5; i++ {
		l.Log("action", Success)
	}
	entries := l.Recent(5)
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatal("entries not in insertion order")
		}
	}
}

func TestByUserAndByAction(t *testing.T) {
	l := New(Config{MaxEntries: 100})
	l.Log(ActionTokenVerified, Success, WithUser("u1"))
	l.Log(ActionTokenVerified, Success, WithUser("u2"))
	l.Log(ActionToolCall, Success, WithUser("u1"))

	u1 := l.ByUser("u1", 10)
	if len(u1) != 2 {
		t.Fatalf("ByUser(u1) len = %d, want 2", len(u1))
	}

	calls := l.ByAction(ActionToolCall, 10)
	if len(calls) != 1 {
		t.Fatalf("ByAction(tool_call) len = %d, want 1", len(calls))
	}
}

func TestFailedFiltersByResult(t *testing.T) {
	l := New(Config{MaxEntries: 100})
	l.Log("a", Success)
	l.Log("b", Failure)
	l.Log("c", Error)

	failed := l.Failed(10)
	if len(failed) != 2 {
		t.Fatalf("Failed() len = %d, want 2", len(failed))
	}
}

func TestSinkFailureNeverPropagates(t *testing.T) {
	sink := &recordingSink{fail: true}
	l := New(Config{MaxEntries: 10, Sink: sink})

	// Log must return promptly regardless of sink outcome; there is no
	// error return value to check, so success here is simply "did not
	// panic / did not block".
	l.Log(ActionToolCall, Success)

	time.Sleep(20 * time.Millisecond)
	if l.EntryCount() != 1 {
		t.Fatalf("EntryCount() = %d, want 1", l.EntryCount())
	}
}

func TestSinkReceivesEntryAsynchronously(t *testing.T) {
	sink := &recordingSink{}
	l := New(Config{MaxEntries: 10, Sink: sink})

	l.Log(ActionToolCall, Success, WithUser("u1"), WithResource("t"))

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(sink.snapshot()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := sink.snapshot()
	if len(got) != 1 {
		t.Fatalf("sink received %d entries, want 1", len(got))
	}
	if got[0].UserID != "u1" || got[0].Resource != "t" {
		t.Fatalf("sink entry = %+v, want userId=u1 resource=t", got[0])
	}
}

func TestExportIsDefensiveCopy(t *testing.T) {
	l := New(Config{MaxEntries: 10})
	l.Log("a", Success)

	exported := l.Export()
	exported[0].Action = "tampered"

	if l.Recent(1)[0].Action == "tampered" {
		t.Fatal("Export must return a defensive copy")
	}
}

func TestClearEmptiesRing(t *testing.T) {
	l := New(Config{MaxEntries: 10})
	l.Log("a", Success)
	l.Clear()
	if l.EntryCount() != 0 {
		t.Fatalf("EntryCount() after Clear = %d, want 0", l.EntryCount())
	}
}

func TestHMACSinkSignsAndVerifies(t *testing.T) {
	inner := &recordingSink{}
	sink := NewHMACSink("top-secret", inner)

	entry := Entry{Action: ActionToolCall, Result: Success, UserID: "u1"}
	if err := sink.Send(entry); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	got := inner.snapshot()
	if len(got) != 1 {
		t.Fatalf("inner sink received %d entries, want 1", len(got))
	}
	sig, ok := got[0].Metadata["x-gateway-signature"].(string)
	if !ok || sig == "" {
		t.Fatal("expected a non-empty x-gateway-signature in forwarded metadata")
	}

	// The signature was computed over the pre-signed entry, so verifying
	// against the original unsigned entry must succeed.
	ok2, err := Verify("top-secret", entry, sig)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !ok2 {
		t.Fatal("Verify should accept a signature produced by HMACSink")
	}

	ok3, _ := Verify("wrong-secret", entry, sig)
	if ok3 {
		t.Fatal("Verify should reject a signature checked against the wrong secret")
	}
}
