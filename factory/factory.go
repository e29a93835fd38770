package factory

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/entitykit/entitykit/entity"
	"github.com/entitykit/entitykit/rules"
)

// Op identifies a factory operation kind.
type Op string

const (
	OpCreate Op = "create"
	OpFetch  Op = "fetch"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Definition is the metadata for a factory.
// It contains the ID, version and description.
type Definition struct {
	ID          string          `json:"id"`
	Version     *semver.Version `json:"version"`
	Description string          `json:"description"`
}

// EmptyCriteria is a placeholder for create and fetch handlers that do not
// require criteria. Calls passing nil criteria resolve to the handler
// registered for EmptyCriteria.
type EmptyCriteria struct{}

// Loader is the function signature of a create or fetch handler. The
// factory constructs the target and pauses its rules before invoking the
// handler; the handler fills the target from the criteria.
type Loader[T entity.Editable, C any] func(b Bundle, target T, criteria C) error

// Writer is the function signature of an insert, update or delete handler.
type Writer[T entity.Editable] func(b Bundle, target T) error

// loader is a registered create or fetch handler with its criteria type
// erased.
type loader[T entity.Editable] struct {
	name     string
	criteria reflect.Type
	run      func(Bundle, T, any) error
	decode   func(json.RawMessage) (any, error)
	remote   bool
}

// writer is a registered insert, update or delete handler.
type writer[T entity.Editable] struct {
	run    Writer[T]
	remote bool
}

// Factory dispatches lifecycle operations for one aggregate type to its
// registered handlers, locally or through a remote executor.
// Use New to create a new Factory.
type Factory[T entity.Editable] struct {
	def  Definition
	newT func(Bundle) T

	mu       sync.RWMutex
	creators []*loader[T]
	fetchers []*loader[T]
	writers  map[Op]*writer[T]

	auth     Authorizer
	executor Executor
}

// Option is a functional option for configuring a Factory.
type Option[T entity.Editable] func(*Factory[T])

// WithAuthorizer sets the authorizer consulted before handlers run.
func WithAuthorizer[T entity.Editable](auth Authorizer) Option[T] {
	return func(f *Factory[T]) {
		f.auth = auth
	}
}

// WithExecutor sets the executor used by operations registered with
// WithRemote. Remote marked operations without an executor run locally.
func WithExecutor[T entity.Editable](executor Executor) Option[T] {
	return func(f *Factory[T]) {
		f.executor = executor
	}
}

// New creates a factory for one aggregate type. The id doubles as the
// snapshot kind in remote envelopes. newT must return a fresh empty
// aggregate; the factory uses it to build handler targets and to
// rehydrate snapshots, threading the bundle's logger and recorder into
// the aggregate.
func New[T entity.Editable](
	id string, version *semver.Version, description string, newT func(Bundle) T, opts ...Option[T],
) *Factory[T] {
	f := &Factory[T]{
		def: Definition{
			ID:          id,
			Version:     version,
			Description: description,
		},
		newT:    newT,
		writers: make(map[Op]*writer[T]),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// ID returns the factory ID.
func (f *Factory[T]) ID() string {
	return f.def.ID
}

// Def returns the factory definition.
func (f *Factory[T]) Def() Definition {
	return f.def
}

// HandleOption is a functional option for a handler registration.
type HandleOption func(*handleConfig)

type handleConfig struct {
	name   string
	remote bool
}

// WithName overrides the wire name of a create or fetch handler. The
// default is the criteria type name.
func WithName(name string) HandleOption {
	return func(c *handleConfig) {
		c.name = name
	}
}

// WithRemote marks the registered operation for dispatch through the
// factory executor.
func WithRemote() HandleOption {
	return func(c *handleConfig) {
		c.remote = true
	}
}

// RegisterCreate registers a create handler. A factory can carry several
// create handlers as long as their criteria types differ; Create selects
// by the type of the criteria value. Registering two handlers for the
// same criteria type or wire name panics.
func RegisterCreate[T entity.Editable, C any](f *Factory[T], handler Loader[T, C], opts ...HandleOption) {
	ld := newLoader[T, C](handler, opts...)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.creators {
		if existing.criteria == ld.criteria {
			panic(fmt.Sprintf("factory %s: create handler for criteria %s already registered", f.def.ID, ld.criteria))
		}
		if existing.name == ld.name {
			panic(fmt.Sprintf("factory %s: create handler named %s already registered", f.def.ID, ld.name))
		}
	}
	f.creators = append(f.creators, ld)
}

// RegisterFetch registers a fetch handler for one criteria type.
// Registering two handlers for the same criteria type or wire name
// panics.
func RegisterFetch[T entity.Editable, C any](f *Factory[T], handler Loader[T, C], opts ...HandleOption) {
	ld := newLoader[T, C](handler, opts...)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.fetchers {
		if existing.criteria == ld.criteria {
			panic(fmt.Sprintf("factory %s: fetch handler for criteria %s already registered", f.def.ID, ld.criteria))
		}
		if existing.name == ld.name {
			panic(fmt.Sprintf("factory %s: fetch handler named %s already registered", f.def.ID, ld.name))
		}
	}
	f.fetchers = append(f.fetchers, ld)
}

// RegisterInsert registers the insert handler invoked by Save for new
// aggregates.
func (f *Factory[T]) RegisterInsert(handler Writer[T], opts ...HandleOption) {
	f.setWriter(OpInsert, handler, opts...)
}

// RegisterUpdate registers the update handler invoked by Save for
// modified aggregates.
func (f *Factory[T]) RegisterUpdate(handler Writer[T], opts ...HandleOption) {
	f.setWriter(OpUpdate, handler, opts...)
}

// RegisterDelete registers the delete handler invoked by Save for deleted
// aggregates.
func (f *Factory[T]) RegisterDelete(handler Writer[T], opts ...HandleOption) {
	f.setWriter(OpDelete, handler, opts...)
}

func (f *Factory[T]) setWriter(op Op, handler Writer[T], opts ...HandleOption) {
	cfg := handleConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.writers[op]; ok {
		panic(fmt.Sprintf("factory %s: %s handler already registered", f.def.ID, op))
	}
	f.writers[op] = &writer[T]{run: handler, remote: cfg.remote}
}

// newLoader erases the criteria type of a handler, keeping the reflect
// type for call time resolution and a decoder for the wire.
func newLoader[T entity.Editable, C any](handler Loader[T, C], opts ...HandleOption) *loader[T] {
	cfg := handleConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	criteriaType := reflect.TypeOf((*C)(nil)).Elem()
	if cfg.name == "" {
		cfg.name = criteriaType.String()
	}

	return &loader[T]{
		name:     cfg.name,
		criteria: criteriaType,
		run: func(b Bundle, target T, criteria any) error {
			c, ok := criteria.(C)
			if !ok {
				return fmt.Errorf("%w: got %T, want %s", ErrCriteriaMismatch, criteria, criteriaType)
			}

			return handler(b, target, c)
		},
		decode: func(raw json.RawMessage) (any, error) {
			var c C
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &c); err != nil {
					return nil, fmt.Errorf("failed to decode criteria as %s: %w", criteriaType, err)
				}
			}

			return c, nil
		},
		remote: cfg.remote,
	}
}

// Create builds a new aggregate through the create handler matching the
// criteria type. The target is constructed and loaded with rules paused,
// then marked new and fully validated so a fresh aggregate surfaces its
// required field messages.
func (f *Factory[T]) Create(b Bundle, criteria any, opts ...CallOption) (T, error) {
	return f.load(b, OpCreate, criteria, opts)
}

// Fetch loads an existing aggregate through the fetch handler matching
// the criteria type. The result is marked old and unmodified; stored
// state is trusted and no rules run.
func (f *Factory[T]) Fetch(b Bundle, criteria any, opts ...CallOption) (T, error) {
	return f.load(b, OpFetch, criteria, opts)
}

func (f *Factory[T]) load(b Bundle, op Op, criteria any, opts []CallOption) (T, error) {
	var zero T

	if criteria == nil {
		criteria = EmptyCriteria{}
	}

	f.mu.RLock()
	loaders := f.creators
	if op == OpFetch {
		loaders = f.fetchers
	}
	f.mu.RUnlock()

	ld, err := resolveLoader(loaders, criteria)
	if err != nil {
		return zero, fmt.Errorf("factory %s %s: %w", f.def.ID, op, err)
	}

	cfg := newCallConfig(opts)

	return executeCall(b, f.def.ID, op, cfg, func() (T, error) {
		if ld.remote && f.executor != nil {
			return f.remoteLoad(b, op, ld.name, criteria)
		}

		return f.runLoad(b, op, ld, criteria)
	})
}

// runLoad executes a create or fetch handler locally.
func (f *Factory[T]) runLoad(b Bundle, op Op, ld *loader[T], criteria any) (T, error) {
	var zero T

	if err := f.authorize(op, criteria); err != nil {
		return zero, err
	}

	b.Logger.Infow("Executing factory operation",
		"factory", f.def.ID, "op", op, "method", ld.name)

	ctx := b.GetContext()
	target := f.newT(b)
	resume := target.PauseAllActions(rules.DiscardTriggers)
	err := ld.run(b, target, criteria)
	if rerr := resume(ctx); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return zero, fmt.Errorf("factory %s %s: %w", f.def.ID, op, err)
	}

	switch op {
	case OpCreate:
		target.MarkNew()
		if err := target.RunAllRules(ctx); err != nil {
			return zero, fmt.Errorf("factory %s create rules: %w", f.def.ID, err)
		}
		if err := target.WaitForRules(ctx); err != nil {
			return zero, fmt.Errorf("factory %s create rules: %w", f.def.ID, err)
		}
	case OpFetch:
		target.MarkOld()
		target.MarkUnmodified()
	}

	return target, nil
}

// Save persists the aggregate by routing to insert, update or delete
// based on its lifecycle flags. Only valid root aggregates can be saved.
// After insert or update the returned aggregate is marked old and
// unmodified; after delete, and for aggregates that were both new and
// deleted, the zero value is returned.
func (f *Factory[T]) Save(b Bundle, target T, opts ...CallOption) (T, error) {
	var zero T
	ctx := b.GetContext()

	if target.IsChild() {
		return zero, fmt.Errorf("factory %s save %s: %w", f.def.ID, target.ID(), ErrChildSave)
	}
	if err := target.WaitForRules(ctx); err != nil {
		return zero, fmt.Errorf("factory %s save %s: %w", f.def.ID, target.ID(), err)
	}
	if !target.IsValid() {
		return zero, fmt.Errorf("factory %s save %s: %w", f.def.ID, target.ID(), NewNotValidError(target.Messages()))
	}

	var op Op
	switch {
	case target.IsNew() && target.IsDeleted():
		// Never persisted; nothing to remove.
		return zero, nil
	case target.IsDeleted():
		op = OpDelete
	case target.IsNew():
		op = OpInsert
	case target.IsModified():
		op = OpUpdate
	default:
		// Nothing to persist.
		return target, nil
	}

	cfg := newCallConfig(opts)

	return executeCall(b, f.def.ID, op, cfg, func() (T, error) {
		return f.write(b, op, target)
	})
}

// write runs one persistence operation, remotely when the registration
// asks for that.
func (f *Factory[T]) write(b Bundle, op Op, target T) (T, error) {
	var zero T

	f.mu.RLock()
	w := f.writers[op]
	f.mu.RUnlock()
	if w == nil || w.run == nil {
		return zero, fmt.Errorf("factory %s %s: %w", f.def.ID, op, ErrNoHandler)
	}

	if w.remote && f.executor != nil {
		return f.remoteWrite(b, op, target)
	}

	return f.runWrite(b, op, w, target)
}

// runWrite executes an insert, update or delete handler locally.
func (f *Factory[T]) runWrite(b Bundle, op Op, w *writer[T], target T) (T, error) {
	var zero T

	if err := f.authorize(op, any(target)); err != nil {
		return zero, err
	}

	b.Logger.Infow("Executing factory operation",
		"factory", f.def.ID, "op", op, "target", target.ID())

	if err := w.run(b, target); err != nil {
		return zero, fmt.Errorf("factory %s %s %s: %w", f.def.ID, op, target.ID(), err)
	}

	if op == OpDelete {
		return zero, nil
	}

	target.MarkOld()
	target.MarkUnmodified()

	return target, nil
}

func (f *Factory[T]) authorize(op Op, subject any) error {
	if f.auth == nil {
		return nil
	}

	if err := f.auth.Can(op, subject); err != nil {
		return fmt.Errorf("factory %s %s: %w", f.def.ID, op, err)
	}

	return nil
}

// resolveLoader finds the handler registered for the criteria value's
// type.
func resolveLoader[T entity.Editable](loaders []*loader[T], criteria any) (*loader[T], error) {
	criteriaType := reflect.TypeOf(criteria)
	for _, ld := range loaders {
		if ld.criteria == criteriaType {
			return ld, nil
		}
	}

	return nil, fmt.Errorf("%w for criteria type %v", ErrNoHandler, criteriaType)
}

// loaderByName finds the handler registered under a wire name.
func loaderByName[T entity.Editable](loaders []*loader[T], name string) (*loader[T], error) {
	for _, ld := range loaders {
		if ld.name == name {
			return ld, nil
		}
	}

	return nil, fmt.Errorf("%w named %s", ErrNoHandler, name)
}
