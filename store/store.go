// Package store persists entity snapshots. A snapshot is the serialized
// state of an aggregate root at a point in time, keyed by entity kind and
// identity and versioned for optimistic concurrency. Stores come in a
// process local memory flavor and a database/sql flavor backed by postgres.
package store

import (
	"context"
	"errors"
)

var (
	// ErrSnapshotNotFound is returned when no snapshot exists for the
	// provided key.
	ErrSnapshotNotFound = errors.New("no snapshot can be found for the provided key")

	// ErrSnapshotExists is returned when a snapshot with the supplied key
	// already exists.
	ErrSnapshotExists = errors.New("a snapshot with the supplied key already exists")

	// ErrVersionConflict is returned when a write carries a version that no
	// longer matches the stored snapshot.
	ErrVersionConflict = errors.New("snapshot version does not match the stored version")
)

// Comparable provides an Equals() method which returns true if the two
// instances are equal, false otherwise.
type Comparable[T any] interface {
	Equals(T) bool
}

// Cloneable provides a Clone() method which returns a copy of the record.
type Cloneable[R any] interface {
	Clone() (R, error)
}

// PrimaryKeyHolder is an interface for types that can provide a unique
// identifier key for themselves.
type PrimaryKeyHolder[K Comparable[K]] interface {
	Key() K
}

// UniqueRecord represents a data entry that is both Cloneable and uniquely
// identifiable by its primary key.
type UniqueRecord[K Comparable[K], R PrimaryKeyHolder[K]] interface {
	Cloneable[R]
	PrimaryKeyHolder[K]
}

// FilterFunc is a function that filters a slice of records.
type FilterFunc[K Comparable[K], R UniqueRecord[K, R]] func([]R) []R

// Fetcher provides a Fetch() method which is used to complete a read query
// from a Store.
type Fetcher[R any] interface {
	// Fetch returns a copy of all records in the store.
	Fetch(ctx context.Context) ([]R, error)
}

// Getter provides a Get() method which is used to complete a read by key
// query from a Store.
type Getter[K Comparable[K], R UniqueRecord[K, R]] interface {
	// Get returns the record with the given key, or an error if no such
	// record exists.
	Get(ctx context.Context, key K) (R, error)
}

// Filterable provides a Filter() method which is used to complete a
// filtered query from a Store.
type Filterable[K Comparable[K], R UniqueRecord[K, R]] interface {
	// Filter returns a copy of all records that pass the provided filters.
	// Filters are applied in the order they are provided. If no filters are
	// provided, all records are returned.
	Filter(ctx context.Context, filters ...FilterFunc[K, R]) ([]R, error)
}

// Store is an interface that represents an immutable set of records.
type Store[K Comparable[K], R UniqueRecord[K, R]] interface {
	Fetcher[R]
	Getter[K, R]
	Filterable[K, R]
}

// MutableStore is an interface that represents a mutable set of records.
// Writes stamp the record's version and update time; the stamped record is
// returned to the caller.
type MutableStore[K Comparable[K], R UniqueRecord[K, R]] interface {
	Store[K, R]

	// Add inserts a new record, returning ErrSnapshotExists when a record
	// with the same key is already present.
	Add(ctx context.Context, record R) (R, error)

	// Upsert inserts the record or replaces an existing one without a
	// version check.
	Upsert(ctx context.Context, record R) (R, error)

	// Update replaces an existing record. The supplied record's version
	// must match the stored version or ErrVersionConflict is returned.
	Update(ctx context.Context, record R) (R, error)

	// Delete removes the record with the supplied key, returning an error
	// if no such record exists.
	Delete(ctx context.Context, key K) error
}

// SnapshotStore is an immutable view over a set of Snapshot records
// identified by SnapshotKey.
type SnapshotStore interface {
	Store[SnapshotKey, Snapshot]
}

// MutableSnapshotStore is a mutable SnapshotStore of Snapshot records
// identified by SnapshotKey.
type MutableSnapshotStore interface {
	MutableStore[SnapshotKey, Snapshot]
}
