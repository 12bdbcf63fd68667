package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/praekeltfoundation/vumi-telegram/pkg/message"
)

func TestMemoryStoreCheckAndMark(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	seen, err := s.CheckAndMark(ctx, "100")
	if err != nil {
		t.Fatalf("CheckAndMark error: %v", err)
	}
	if seen {
		t.Fatal("first sighting reported as seen")
	}

	seen, err = s.CheckAndMark(ctx, "100")
	if err != nil {
		t.Fatalf("CheckAndMark error: %v", err)
	}
	if !seen {
		t.Fatal("second sighting not reported as seen")
	}

	seenAt, ok, err := s.Seen(ctx, "100")
	if err != nil {
		t.Fatalf("Seen error: %v", err)
	}
	if !ok || seenAt.IsZero() {
		t.Fatal("expected recorded first-sight timestamp")
	}
}

func TestMemoryStoreUnmark(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if seen, _ := s.CheckAndMark(ctx, "100"); seen {
		t.Fatal("first sighting reported as seen")
	}

	if err := s.Unmark(ctx, "100"); err != nil {
		t.Fatalf("Unmark error: %v", err)
	}

	if seen, _ := s.CheckAndMark(ctx, "100"); seen {
		t.Fatal("unmarked id still reported as seen")
	}

	// Unmarking an unknown id is a no-op.
	if err := s.Unmark(ctx, "nope"); err != nil {
		t.Fatalf("Unmark error: %v", err)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	current := time.Now()
	s.now = func() time.Time { return current }

	if seen, _ := s.CheckAndMark(ctx, "7"); seen {
		t.Fatal("first sighting reported as seen")
	}

	// Within the TTL the id stays suppressed.
	current = current.Add(30 * time.Second)
	if seen, _ := s.CheckAndMark(ctx, "7"); !seen {
		t.Fatal("expected duplicate within TTL")
	}

	// After expiry a resend is treated as new.
	current = current.Add(2 * time.Minute)
	if seen, _ := s.CheckAndMark(ctx, "7"); seen {
		t.Fatal("expected expired id to be treated as new")
	}
}

func TestMemoryStoreConcurrentCheckAndMark(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	const workers = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen, err := s.CheckAndMark(ctx, "42")
			if err != nil {
				t.Errorf("CheckAndMark error: %v", err)
				return
			}
			if !seen {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Fatalf("%d goroutines observed a fresh id, want exactly 1", fresh)
	}
}

func TestMemoryStoreReplyContext(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	msg := message.TransportMessage{MessageID: "m1", Content: "pizza"}
	msg.SetTelegramMetadata(map[string]any{
		"type":    "inline_query",
		"details": map[string]any{"inline_query_id": "q1"},
	})

	if err := s.Save(ctx, msg); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	loaded, err := s.Load(ctx, "m1")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected stored envelope")
	}
	if got := loaded.MetadataDetails()["inline_query_id"]; got != "q1" {
		t.Fatalf("inline_query_id = %v, want q1", got)
	}

	missing, err := s.Load(ctx, "nope")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for unknown message id")
	}
}
