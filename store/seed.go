package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/suzuki-shunsuke/go-convmap/convmap"
	"gopkg.in/yaml.v3"
)

// seedFile is the on disk layout of a snapshot seed file.
type seedFile struct {
	Snapshots []seedRecord `yaml:"snapshots"`
}

// seedRecord is a single snapshot declaration in a seed file.
type seedRecord struct {
	Kind        string `yaml:"kind"`
	ID          string `yaml:"id"`
	State       any    `yaml:"state"`
	Annotations any    `yaml:"annotations"`
}

// LoadSeed reads a YAML seed file from path and upserts each snapshot it
// declares into the provided store. It returns the stamped snapshots in
// file order. Seeding is idempotent; rerunning a seed file replaces the
// snapshots it declares.
func LoadSeed(ctx context.Context, path string, into MutableSnapshotStore) ([]Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	applied, err := ApplySeed(ctx, data, into)
	if err != nil {
		return nil, fmt.Errorf("failed to apply seed file %s: %w", path, err)
	}

	return applied, nil
}

// ApplySeed parses YAML seed data and upserts each snapshot it declares
// into the provided store.
func ApplySeed(ctx context.Context, data []byte, into MutableSnapshotStore) ([]Snapshot, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed data: %w", err)
	}

	applied := make([]Snapshot, 0, len(file.Snapshots))
	for i, rec := range file.Snapshots {
		if rec.Kind == "" || rec.ID == "" {
			return nil, fmt.Errorf("seed snapshot %d is missing kind or id", i)
		}

		// Convert the YAML state first to make sure it is JSON compatible.
		converted, err := convmap.Convert(rec.State, nil)
		if err != nil {
			return nil, fmt.Errorf("seed snapshot %s/%s has an invalid state: %w", rec.Kind, rec.ID, err)
		}

		raw, err := json.Marshal(converted)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize state for seed snapshot %s/%s: %w", rec.Kind, rec.ID, err)
		}

		snap := Snapshot{Kind: rec.Kind, ID: rec.ID, State: raw}

		if rec.Annotations != nil {
			annotations, err := convmap.Convert(rec.Annotations, nil)
			if err != nil {
				return nil, fmt.Errorf("seed snapshot %s/%s has invalid annotations: %w", rec.Kind, rec.ID, err)
			}
			snap.Annotations = annotations
		}

		stored, err := into.Upsert(ctx, snap)
		if err != nil {
			return nil, fmt.Errorf("failed to store seed snapshot %s/%s: %w", rec.Kind, rec.ID, err)
		}
		applied = append(applied, stored)
	}

	return applied, nil
}
