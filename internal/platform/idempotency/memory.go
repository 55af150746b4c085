package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process, for tests and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	existing, found := s.records[id]
	outcome, err := decide(existing, found, fingerprint, now)
	if err != nil {
		return outcome, Record{}, err
	}
	if outcome == Proceed {
		existing = pending(key, fingerprint, now.UTC(), normalizeTTL(ttl))
		s.records[id] = existing
	}
	return outcome, existing, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	existing, found := s.records[id]
	record, err := completed(existing, found, key, fingerprint, resp, now.UTC(), normalizeTTL(ttl))
	if err != nil {
		return err
	}
	s.records[id] = record
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	if existing, ok := s.records[id]; ok && existing.Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if record.expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

var _ Store = (*MemoryStore)(nil)
