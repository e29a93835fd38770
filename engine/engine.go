// Package engine assembles the entitykit runtime from configuration: the
// logger, the rule run recorder, the snapshot store and the factory
// dispatcher, plus per-kind rule profiles. It replaces hand wiring these
// pieces in every host application.
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/entitykit/entitykit/config"
	"github.com/entitykit/entitykit/entity"
	"github.com/entitykit/entitykit/factory"
	"github.com/entitykit/entitykit/pkg/logger"
	"github.com/entitykit/entitykit/rules"
	"github.com/entitykit/entitykit/store"
)

// Engine bundles the runtime dependencies of an entitykit application.
// Use New to create one.
type Engine struct {
	cfg        *config.Config
	profiles   config.Profiles
	lggr       logger.Logger
	rec        rules.Recorder
	snaps      store.MutableSnapshotStore
	dispatcher *factory.Dispatcher

	// closers releases resources the engine opened itself, in Close.
	closers []func() error
}

// New builds an Engine from the config. A nil cfg selects DefaultConfig.
// The store is chosen by the configured DSN: Postgres when set, in-memory
// otherwise. Options override the built dependencies.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	var options options
	for _, opt := range opts {
		opt(&options)
	}

	if options.profiles != nil {
		if err := options.profiles.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule profiles: %w", err)
		}
	}

	lggr := options.lggr
	if lggr == nil {
		var err error

		lggr, err = newLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
	}

	rec := options.rec
	if rec == nil {
		rec = rules.NewMemoryRecorder()
	}

	e := &Engine{
		cfg:      cfg,
		profiles: options.profiles,
		lggr:     lggr,
		rec:      rec,
	}

	snaps := options.snaps
	if snaps == nil {
		var err error

		snaps, err = e.openStore(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
	}
	e.snaps = snaps

	e.dispatcher = factory.NewDispatcher(lggr, factory.WithRecorder(rec))

	return e, nil
}

// newLogger builds the engine logger at the configured level.
func newLogger(cfg config.LogConfig) (logger.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error

		level, err = zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
	}

	logCfg := logger.Config{Level: level}

	return logCfg.New()
}

// openStore selects the snapshot store from the store config. A configured
// DSN opens Postgres and ensures the schema; otherwise the engine runs on an
// in-memory store.
func (e *Engine) openStore(ctx context.Context, cfg config.StoreConfig) (store.MutableSnapshotStore, error) {
	if cfg.DSN == "" {
		e.lggr.Info("No store DSN configured, using the in-memory snapshot store")

		return store.NewMemorySnapshotStore(), nil
	}

	db, err := store.OpenPostgres(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	e.closers = append(e.closers, db.Close)

	snaps := store.NewSQLSnapshotStore(db)
	if err := snaps.EnsureSchema(ctx); err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to ensure snapshot schema: %w", err),
			db.Close(),
		)
	}

	e.lggr.Info("Using the Postgres snapshot store")

	return snaps, nil
}

// Logger returns the engine logger.
func (e *Engine) Logger() logger.Logger { return e.lggr }

// Recorder returns the rule run recorder shared by everything the engine
// builds.
func (e *Engine) Recorder() rules.Recorder { return e.rec }

// Store returns the snapshot store.
func (e *Engine) Store() store.MutableSnapshotStore { return e.snaps }

// Dispatcher returns the factory dispatcher serving registered factories.
func (e *Engine) Dispatcher() *factory.Dispatcher { return e.dispatcher }

// Bundle returns a factory.Bundle carrying the engine logger and recorder,
// scoped to ctx.
func (e *Engine) Bundle(ctx context.Context) factory.Bundle {
	return factory.NewBundle(
		func() context.Context { return ctx },
		e.lggr,
		factory.WithRecorder(e.rec),
	)
}

// RegisterFactory registers f with the engine dispatcher so remote requests
// can reach it. It panics if the factory ID is already registered.
func (e *Engine) RegisterFactory(f factory.RemoteFactory) {
	e.dispatcher.Register(f)
}

// Executor returns an executor that serves factory calls through the engine
// dispatcher in process.
func (e *Engine) Executor() factory.Executor {
	return factory.Loopback(e.dispatcher)
}

// EntityOptions returns the entity options the engine applies to aggregates
// of the given kind: the engine logger, the recorder and the cascade cap
// from the kind's profile, falling back to the global rules config.
func (e *Engine) EntityOptions(kind string) []entity.Option {
	maxRuns := e.cfg.Rules.MaxCascadeRuns
	if profile, ok := e.profiles[kind]; ok && profile.MaxCascadeRuns > 0 {
		maxRuns = profile.MaxCascadeRuns
	}

	return []entity.Option{
		entity.WithLogger(e.lggr),
		entity.WithRecorder(e.rec),
		entity.WithMaxCascadeRuns(maxRuns),
	}
}

// RunContext derives the context rule runs for the given kind should use,
// applying the run timeout from the kind's profile, falling back to the
// global rules config. A zero timeout returns a plain cancelable context.
func (e *Engine) RunContext(ctx context.Context, kind string) (context.Context, context.CancelFunc) {
	timeout := e.cfg.Rules.RunTimeout
	if profile, ok := e.profiles[kind]; ok {
		// Profiles are validated in New, so the parse cannot fail here.
		if d, err := profile.Timeout(); err == nil && d > 0 {
			timeout = d
		}
	}

	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

// CallOptions returns the factory call options the config asks for,
// currently the retry policy when the retry is enabled.
func (e *Engine) CallOptions() []factory.CallOption {
	if !e.cfg.Factory.RetryEnabled {
		return nil
	}

	return []factory.CallOption{
		factory.WithRetryPolicy(factory.RetryPolicy{
			MaxAttempts: e.cfg.Factory.RetryAttempts,
		}),
	}
}

// Close releases resources the engine opened, such as the database behind a
// Postgres snapshot store. Stores provided through WithStore are not closed.
func (e *Engine) Close() error {
	var errs []error
	for _, closeFn := range e.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
