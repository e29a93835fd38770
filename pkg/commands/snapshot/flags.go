package snapshot

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/entitykit/entitykit/store"
)

// addFilterFlags registers the snapshot selection flags.
func addFilterFlags(fs *pflag.FlagSet) {
	fs.String("kind", "", "Keep only snapshots of this entity kind")
	fs.String("id", "", "Keep only snapshots with this entity id")
	fs.Bool("deleted", false, "Keep only snapshots whose deletion flag matches")
	fs.String("since", "", "Keep only snapshots updated at or after this RFC 3339 time")
}

// filtersFromFlags builds the store filters the set flags ask for. Flags
// left at their defaults contribute no filter, so --deleted=false selects
// live snapshots while omitting the flag selects everything.
func filtersFromFlags(fs *pflag.FlagSet) ([]store.FilterFunc[store.SnapshotKey, store.Snapshot], error) {
	var filters []store.FilterFunc[store.SnapshotKey, store.Snapshot]

	if fs.Changed("kind") {
		kind, err := fs.GetString("kind")
		if err != nil {
			return nil, err
		}
		filters = append(filters, store.SnapshotByKind(kind))
	}

	if fs.Changed("id") {
		id, err := fs.GetString("id")
		if err != nil {
			return nil, err
		}
		filters = append(filters, store.SnapshotByID(id))
	}

	if fs.Changed("deleted") {
		deleted, err := fs.GetBool("deleted")
		if err != nil {
			return nil, err
		}
		filters = append(filters, store.SnapshotByDeleted(deleted))
	}

	if fs.Changed("since") {
		raw, err := fs.GetString("since")
		if err != nil {
			return nil, err
		}

		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid since time %q: %w", raw, err)
		}
		filters = append(filters, store.SnapshotUpdatedSince(since))
	}

	return filters, nil
}
