package store

import (
	"time"
)

var (
	_ FilterFunc[SnapshotKey, Snapshot] = SnapshotByKind("")
	_ FilterFunc[SnapshotKey, Snapshot] = SnapshotByID("")
	_ FilterFunc[SnapshotKey, Snapshot] = SnapshotByDeleted(false)
	_ FilterFunc[SnapshotKey, Snapshot] = SnapshotUpdatedSince(time.Time{})
)

// snapshotFilter builds a FilterFunc that keeps the records for which the
// predicate returns true.
func snapshotFilter(keep func(Snapshot) bool) FilterFunc[SnapshotKey, Snapshot] {
	return func(records []Snapshot) []Snapshot {
		filtered := make([]Snapshot, 0, len(records))
		for _, record := range records {
			if keep(record) {
				filtered = append(filtered, record)
			}
		}

		return filtered
	}
}

// SnapshotByKind returns a filter that only includes records with the
// provided entity kind.
func SnapshotByKind(kind string) FilterFunc[SnapshotKey, Snapshot] {
	return snapshotFilter(func(record Snapshot) bool {
		return record.Kind == kind
	})
}

// SnapshotByID returns a filter that only includes records with the
// provided entity identity, across kinds.
func SnapshotByID(id string) FilterFunc[SnapshotKey, Snapshot] {
	return snapshotFilter(func(record Snapshot) bool {
		return record.ID == id
	})
}

// SnapshotByDeleted returns a filter that only includes records whose
// aggregate carried the matching deletion flag.
func SnapshotByDeleted(deleted bool) FilterFunc[SnapshotKey, Snapshot] {
	return snapshotFilter(func(record Snapshot) bool {
		return record.Meta.IsDeleted == deleted
	})
}

// SnapshotUpdatedSince returns a filter that only includes records written
// at or after the provided time.
func SnapshotUpdatedSince(since time.Time) FilterFunc[SnapshotKey, Snapshot] {
	return snapshotFilter(func(record Snapshot) bool {
		return !record.UpdatedAt.Before(since)
	})
}
