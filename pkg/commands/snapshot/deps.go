// Package snapshot provides CLI commands for snapshot diagnostics.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/entitykit/entitykit/pkg/logger"
	"github.com/entitykit/entitykit/store"
)

// DumpLoaderFunc reads the snapshots from a dump file. A dump is either a
// JSON array of snapshots or a single snapshot object.
type DumpLoaderFunc func(path string) ([]store.Snapshot, error)

// defaultDumpLoader is the production implementation that reads a dump file
// from disk.
func defaultDumpLoader(path string) ([]store.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot dump %s: %w", path, err)
	}

	var snaps []store.Snapshot
	if err := json.Unmarshal(data, &snaps); err == nil {
		return snaps, nil
	}

	var single store.Snapshot
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot dump %s: %w", path, err)
	}

	return []store.Snapshot{single}, nil
}

// Deps holds the injectable dependencies for snapshot commands.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// DumpLoader reads snapshots from a dump file.
	// Default: read a JSON dump from disk
	DumpLoader DumpLoaderFunc
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.DumpLoader == nil {
		d.DumpLoader = defaultDumpLoader
	}
}

// Config holds configuration for the snapshot commands.
type Config struct {
	// Logger logs command progress.
	Logger logger.Logger

	// Deps holds the injectable dependencies. Nil values use production
	// defaults; override them to inject mocks for testing.
	Deps *Deps
}

// deps applies defaults for optional dependencies.
func (c *Config) deps() {
	if c.Deps == nil {
		c.Deps = &Deps{}
	}
	c.Deps.applyDefaults()
}
