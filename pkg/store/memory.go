package store

import (
	"context"
	"sync"
	"time"

	"github.com/praekeltfoundation/vumi-telegram/pkg/message"
)

// MemoryStore is a process-local DedupStore and ReplyContextStore. It holds
// the same atomicity contract as the Redis store: check-and-mark happens under
// one lock acquisition.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	seen     map[string]time.Time
	contexts map[string]memoryEntry
}

type memoryEntry struct {
	msg       message.TransportMessage
	expiresAt time.Time
}

// NewMemoryStore builds an empty store with the given entry TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		seen:     make(map[string]time.Time),
		contexts: make(map[string]memoryEntry),
	}
}

// CheckAndMark records updateID and reports whether it was already live.
func (s *MemoryStore) CheckAndMark(_ context.Context, updateID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictExpired(now)

	if _, ok := s.seen[updateID]; ok {
		return true, nil
	}

	s.seen[updateID] = now
	return false, nil
}

// Unmark removes the dedup record for updateID.
func (s *MemoryStore) Unmark(_ context.Context, updateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.seen, updateID)
	return nil
}

// Seen returns the recorded first-sight timestamp for updateID.
func (s *MemoryStore) Seen(_ context.Context, updateID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpired(s.now())
	seenAt, ok := s.seen[updateID]
	return seenAt, ok, nil
}

// Save retains msg for reply-context lookups until its TTL lapses.
func (s *MemoryStore) Save(_ context.Context, msg message.TransportMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contexts[msg.MessageID] = memoryEntry{
		msg:       msg,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// Load fetches a stored envelope by message id.
func (s *MemoryStore) Load(_ context.Context, messageID string) (*message.TransportMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.contexts[messageID]
	if !ok || s.now().After(entry.expiresAt) {
		return nil, nil
	}

	msg := entry.msg
	return &msg, nil
}

// evictExpired drops dedup records past their TTL. Called with the lock held.
func (s *MemoryStore) evictExpired(now time.Time) {
	for id, seenAt := range s.seen {
		if now.Sub(seenAt) > s.ttl {
			delete(s.seen, id)
		}
	}
}
