package store

import (
	"context"
	"sync"
	"time"
)

// MemorySnapshotStore is an in memory implementation of
// MutableSnapshotStore. It is safe for concurrent use and returns clones so
// callers can never mutate stored records in place.
type MemorySnapshotStore struct {
	mu      sync.RWMutex
	Records []Snapshot `json:"records"`
}

// MemorySnapshotStore implements MutableSnapshotStore.
var _ MutableSnapshotStore = &MemorySnapshotStore{}

// NewMemorySnapshotStore creates a new empty MemorySnapshotStore.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{Records: []Snapshot{}}
}

// indexOf returns the index of the record with the supplied key, or -1 if
// no such record exists. The caller must hold at least a read lock.
func (s *MemorySnapshotStore) indexOf(key SnapshotKey) int {
	for i, record := range s.Records {
		if record.Key().Equals(key) {
			return i
		}
	}

	return -1
}

// Get returns a clone of the record with the supplied key, or
// ErrSnapshotNotFound if no such record exists.
func (s *MemorySnapshotStore) Get(_ context.Context, key SnapshotKey) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(key)
	if idx == -1 {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return s.Records[idx].Clone()
}

// Fetch returns a clone of all records in the store.
func (s *MemorySnapshotStore) Fetch(_ context.Context) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Snapshot, 0, len(s.Records))
	for _, record := range s.Records {
		clone, err := record.Clone()
		if err != nil {
			return nil, err
		}
		records = append(records, clone)
	}

	return records, nil
}

// Filter returns a clone of all records that pass the provided filters.
// Filters are applied in the order they are provided. If no filters are
// provided, all records are returned.
func (s *MemorySnapshotStore) Filter(_ context.Context, filters ...FilterFunc[SnapshotKey, Snapshot]) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Snapshot, 0, len(s.Records))
	for _, record := range s.Records {
		clone, err := record.Clone()
		if err != nil {
			return nil, err
		}
		records = append(records, clone)
	}

	for _, filter := range filters {
		records = filter(records)
	}

	return records, nil
}

// Add inserts a new record, stamping it with version 1 and the current
// time. It returns ErrSnapshotExists when a record with the same key is
// already present.
func (s *MemorySnapshotStore) Add(_ context.Context, record Snapshot) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(record.Key()) != -1 {
		return Snapshot{}, ErrSnapshotExists
	}

	record.Version = 1
	record.UpdatedAt = time.Now().UTC()

	stored, err := record.Clone()
	if err != nil {
		return Snapshot{}, err
	}
	s.Records = append(s.Records, stored)

	return record, nil
}

// Upsert inserts the record or replaces an existing one without a version
// check. The stored version is incremented on replace.
func (s *MemorySnapshotStore) Upsert(_ context.Context, record Snapshot) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(record.Key())
	if idx == -1 {
		record.Version = 1
	} else {
		record.Version = s.Records[idx].Version + 1
	}
	record.UpdatedAt = time.Now().UTC()

	stored, err := record.Clone()
	if err != nil {
		return Snapshot{}, err
	}
	if idx == -1 {
		s.Records = append(s.Records, stored)
	} else {
		s.Records[idx] = stored
	}

	return record, nil
}

// Update replaces an existing record. The supplied record's version must
// match the stored version or ErrVersionConflict is returned; on success
// the stored version is incremented.
func (s *MemorySnapshotStore) Update(_ context.Context, record Snapshot) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(record.Key())
	if idx == -1 {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if s.Records[idx].Version != record.Version {
		return Snapshot{}, ErrVersionConflict
	}

	record.Version++
	record.UpdatedAt = time.Now().UTC()

	stored, err := record.Clone()
	if err != nil {
		return Snapshot{}, err
	}
	s.Records[idx] = stored

	return record, nil
}

// Delete removes the record with the supplied key, returning
// ErrSnapshotNotFound if no such record exists.
func (s *MemorySnapshotStore) Delete(_ context.Context, key SnapshotKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(key)
	if idx == -1 {
		return ErrSnapshotNotFound
	}

	s.Records = append(s.Records[:idx], s.Records[idx+1:]...)

	return nil
}
