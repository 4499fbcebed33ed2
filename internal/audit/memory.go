package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a thread-safe, in-memory Store used by tests and by the
// server's dev mode when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record

	// FailWrites and FailReads force errors for failure-path tests.
	FailWrites error
	FailReads  error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *MemoryStore) CountSince(_ context.Context, userID, clinicID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return 0, s.FailReads
	}
	count := 0
	for _, r := range s.records {
		if r.UserID == userID && r.ClinicID == clinicID && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) RecentByUser(_ context.Context, userID string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var matched []*Record
	for _, r := range s.records {
		if r.UserID == userID {
			matched = append(matched, r)
		}
	}
	sortNewestFirst(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return copyRecords(matched), nil
}

func (s *MemoryStore) Search(_ context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var matched []*Record
	for _, r := range s.records {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.ClinicID != "" && r.ClinicID != f.ClinicID {
			continue
		}
		if f.Start != nil && r.CreatedAt.Before(*f.Start) {
			continue
		}
		if f.End != nil && r.CreatedAt.After(*f.End) {
			continue
		}
		if f.MinThreatLevel > 0 && r.ThreatLevel < f.MinThreatLevel {
			continue
		}
		if f.DeniedOnly && r.AccessGranted {
			continue
		}
		matched = append(matched, r)
	}
	sortNewestFirst(matched)
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return copyRecords(matched), nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns a copy of every stored record in insertion order.
func (s *MemoryStore) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRecords(s.records)
}

func sortNewestFirst(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

func copyRecords(recs []*Record) []*Record {
	out := make([]*Record, len(recs))
	for i, r := range recs {
		cp := *r
		out[i] = &cp
	}
	return out
}
