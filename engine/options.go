package engine

import (
	"github.com/entitykit/entitykit/config"
	"github.com/entitykit/entitykit/pkg/logger"
	"github.com/entitykit/entitykit/rules"
	"github.com/entitykit/entitykit/store"
)

// options contains the configurable dependencies applied when building an
// Engine. Anything left unset is built from the Config.
type options struct {
	// lggr is the logger used by the engine and everything it builds.
	// Defaults to a production logger at the configured level.
	lggr logger.Logger

	// rec receives a record for every rule run on engine built aggregates.
	// Defaults to rules.NewMemoryRecorder().
	rec rules.Recorder

	// snaps is the snapshot store factories persist to. Defaults to a
	// Postgres store when a DSN is configured and to an in-memory store
	// otherwise.
	snaps store.MutableSnapshotStore

	// profiles tunes rule execution per aggregate kind, overriding the
	// global rules configuration.
	profiles config.Profiles
}

// Option is a functional option for building an Engine.
type Option func(*options)

// WithLogger configures the engine to use a custom logger instance instead
// of building one from the configured log level.
//
// This option is useful when you need to:
//   - Integrate with existing logging infrastructure
//   - Use a test logger for unit tests
//   - Share a logger instance across multiple components
func WithLogger(lggr logger.Logger) Option {
	return func(o *options) {
		o.lggr = lggr
	}
}

// WithRecorder configures a custom rule run recorder. By default a
// memory-based recorder is used, but this option allows you to provide a
// custom implementation.
func WithRecorder(rec rules.Recorder) Option {
	return func(o *options) {
		o.rec = rec
	}
}

// WithStore configures the engine to persist snapshots to the given store,
// bypassing the DSN based selection. The engine does not close stores
// provided this way.
func WithStore(snaps store.MutableSnapshotStore) Option {
	return func(o *options) {
		o.snaps = snaps
	}
}

// WithProfiles configures per-kind rule profiles, typically loaded with
// config.LoadProfiles. Profiles override the global rules configuration for
// the kinds they name.
func WithProfiles(profiles config.Profiles) Option {
	return func(o *options) {
		o.profiles = profiles
	}
}
