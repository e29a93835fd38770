package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/entitykit/entitykit/entity"
	"github.com/entitykit/entitykit/pkg/logger"
	"github.com/entitykit/entitykit/rules"
	"github.com/entitykit/entitykit/store"
)

// Request is the wire envelope for one factory operation.
type Request struct {
	Factory  string          `json:"factory"`
	Op       Op              `json:"op"`
	Method   string          `json:"method,omitempty"`
	Criteria json.RawMessage `json:"criteria,omitempty"`
	Snapshot *store.Snapshot `json:"snapshot,omitempty"`
}

// Response is the result envelope for one factory operation. Messages are
// populated for create so callers can inspect validation output without
// decoding the snapshot.
type Response struct {
	Snapshot *store.Snapshot `json:"snapshot,omitempty"`
	Messages []rules.Message `json:"messages,omitempty"`
}

// Executor carries factory requests to a dispatcher, typically across a
// process boundary.
type Executor interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

// remoteLoad sends a create or fetch through the executor and rebuilds
// the aggregate from the returned snapshot.
func (f *Factory[T]) remoteLoad(b Bundle, op Op, method string, criteria any) (T, error) {
	var zero T

	raw, err := json.Marshal(criteria)
	if err != nil {
		return zero, fmt.Errorf("factory %s %s: failed to encode criteria: %w", f.def.ID, op, err)
	}

	b.Logger.Infow("Dispatching factory operation",
		"factory", f.def.ID, "op", op, "method", method)

	resp, err := f.executor.Execute(b.GetContext(), Request{
		Factory:  f.def.ID,
		Op:       op,
		Method:   method,
		Criteria: raw,
	})
	if err != nil {
		return zero, fmt.Errorf("factory %s %s: %w", f.def.ID, op, err)
	}

	target, err := f.rehydrate(b, resp.Snapshot)
	if err != nil {
		return zero, err
	}

	if op == OpCreate {
		// Messages do not travel with the entity state. Rules are
		// deterministic, so running them again reproduces the remote
		// validation result on this side.
		ctx := b.GetContext()
		if err := target.RunAllRules(ctx); err != nil {
			return zero, fmt.Errorf("factory %s create rules: %w", f.def.ID, err)
		}
		if err := target.WaitForRules(ctx); err != nil {
			return zero, fmt.Errorf("factory %s create rules: %w", f.def.ID, err)
		}
	}

	return target, nil
}

// remoteWrite sends an insert, update or delete through the executor.
func (f *Factory[T]) remoteWrite(b Bundle, op Op, target T) (T, error) {
	var zero T

	snap, err := f.snapshot(target)
	if err != nil {
		return zero, fmt.Errorf("factory %s %s %s: %w", f.def.ID, op, target.ID(), err)
	}

	b.Logger.Infow("Dispatching factory operation",
		"factory", f.def.ID, "op", op, "target", target.ID())

	resp, err := f.executor.Execute(b.GetContext(), Request{
		Factory:  f.def.ID,
		Op:       op,
		Snapshot: &snap,
	})
	if err != nil {
		return zero, fmt.Errorf("factory %s %s %s: %w", f.def.ID, op, target.ID(), err)
	}

	if op == OpDelete {
		return zero, nil
	}

	return f.rehydrate(b, resp.Snapshot)
}

// snapshot wraps the aggregate state in a wire envelope. Version and
// timestamp are storage concerns and stay zero here.
func (f *Factory[T]) snapshot(target T) (store.Snapshot, error) {
	snap, err := store.NewSnapshot(f.def.ID, target.ID(), target)
	if err != nil {
		return store.Snapshot{}, err
	}
	snap.Meta = store.Meta{
		IsNew:     target.IsNew(),
		IsDeleted: target.IsDeleted(),
	}

	return snap, nil
}

// rehydrate builds a fresh aggregate and restores the snapshot state into
// it. Restoring bypasses rules and modification tracking, so the result
// carries exactly the lifecycle flags the snapshot does.
func (f *Factory[T]) rehydrate(b Bundle, snap *store.Snapshot) (T, error) {
	var zero T

	if snap == nil {
		return zero, fmt.Errorf("factory %s: envelope carries no snapshot", f.def.ID)
	}

	target := f.newT(b)
	if err := json.Unmarshal(snap.State, target); err != nil {
		return zero, fmt.Errorf("factory %s: failed to decode snapshot %s: %w", f.def.ID, snap.Key(), err)
	}

	return target, nil
}

// dispatch executes one request on behalf of a Dispatcher. Handlers run
// locally on this side regardless of their remote marking.
func (f *Factory[T]) dispatch(b Bundle, req Request) (Response, error) {
	switch req.Op {
	case OpCreate, OpFetch:
		f.mu.RLock()
		loaders := f.creators
		if req.Op == OpFetch {
			loaders = f.fetchers
		}
		f.mu.RUnlock()

		ld, err := loaderByName(loaders, req.Method)
		if err != nil {
			return Response{}, fmt.Errorf("factory %s %s: %w", f.def.ID, req.Op, err)
		}

		criteria, err := ld.decode(req.Criteria)
		if err != nil {
			return Response{}, fmt.Errorf("factory %s %s: %w", f.def.ID, req.Op, err)
		}

		target, err := f.runLoad(b, req.Op, ld, criteria)
		if err != nil {
			return Response{}, err
		}

		snap, err := f.snapshot(target)
		if err != nil {
			return Response{}, fmt.Errorf("factory %s %s: %w", f.def.ID, req.Op, err)
		}

		return Response{Snapshot: &snap, Messages: target.Messages()}, nil

	case OpInsert, OpUpdate, OpDelete:
		target, err := f.rehydrate(b, req.Snapshot)
		if err != nil {
			return Response{}, err
		}

		f.mu.RLock()
		w := f.writers[req.Op]
		f.mu.RUnlock()
		if w == nil || w.run == nil {
			return Response{}, fmt.Errorf("factory %s %s: %w", f.def.ID, req.Op, ErrNoHandler)
		}

		saved, err := f.runWrite(b, req.Op, w, target)
		if err != nil {
			return Response{}, err
		}

		if req.Op == OpDelete {
			return Response{}, nil
		}

		snap, err := f.snapshot(saved)
		if err != nil {
			return Response{}, fmt.Errorf("factory %s %s: %w", f.def.ID, req.Op, err)
		}

		return Response{Snapshot: &snap}, nil

	default:
		return Response{}, fmt.Errorf("factory %s: unknown op %q", f.def.ID, req.Op)
	}
}

// RemoteFactory is the dispatcher side view of a factory. Factories
// implement it; dispatch is unexported so operations only enter through
// Dispatcher.Dispatch.
type RemoteFactory interface {
	ID() string
	dispatch(b Bundle, req Request) (Response, error)
}

var _ RemoteFactory = &Factory[*entity.EditBase]{}

// Dispatcher routes factory requests to registered factories. It is the
// serving half of the remote seam; an Executor carries requests to it.
type Dispatcher struct {
	lggr logger.Logger
	opts []BundleOption

	mu        sync.RWMutex
	factories map[string]RemoteFactory
}

// NewDispatcher creates an empty dispatcher. The bundle options are
// applied to the bundle built for every dispatched request.
func NewDispatcher(lggr logger.Logger, opts ...BundleOption) *Dispatcher {
	return &Dispatcher{
		lggr:      lggr,
		opts:      opts,
		factories: make(map[string]RemoteFactory),
	}
}

// Register adds a factory to the dispatcher. Registering two factories
// under the same ID panics.
func (d *Dispatcher) Register(f RemoteFactory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.factories[f.ID()]; ok {
		panic(fmt.Sprintf("dispatcher: factory %s already registered", f.ID()))
	}
	d.factories[f.ID()] = f
}

// Dispatch executes one request against the factory it names.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	d.mu.RLock()
	f, ok := d.factories[req.Factory]
	d.mu.RUnlock()
	if !ok {
		return Response{}, fmt.Errorf("factory %q: %w", req.Factory, ErrNotRegistered)
	}

	b := NewBundle(func() context.Context { return ctx }, d.lggr, d.opts...)

	return f.dispatch(b, req)
}

// Loopback returns an executor that hands requests straight to the
// dispatcher in process.
func Loopback(d *Dispatcher) Executor {
	return &loopback{dispatcher: d}
}

type loopback struct {
	dispatcher *Dispatcher
}

var _ Executor = &loopback{}

func (l *loopback) Execute(ctx context.Context, req Request) (Response, error) {
	return l.dispatcher.Dispatch(ctx, req)
}
