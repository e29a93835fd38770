package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/entitykit/entitykit/pkg/logger"
	"github.com/entitykit/entitykit/props"
	"github.com/entitykit/entitykit/rules"
)

// Option is a functional option for configuring an entity base during Init.
type Option func(*initConfig)

type initConfig struct {
	lggr    logger.Logger
	mgrOpts []rules.ManagerOption
}

// WithLogger sets the logger handed to the entity's rule manager. Defaults
// to a no-op logger.
func WithLogger(lggr logger.Logger) Option {
	return func(c *initConfig) {
		c.lggr = lggr
	}
}

// WithRecorder sets the recorder that receives a record for every rule run
// of the entity.
func WithRecorder(rec rules.Recorder) Option {
	return func(c *initConfig) {
		c.mgrOpts = append(c.mgrOpts, rules.WithRecorder(rec))
	}
}

// WithMaxCascadeRuns overrides the entity's rule cascade cap.
func WithMaxCascadeRuns(n int) Option {
	return func(c *initConfig) {
		c.mgrOpts = append(c.mgrOpts, rules.WithMaxCascadeRuns(n))
	}
}

// ValidateBase is the embeddable base for entities that validate but carry
// no persistence lifecycle. It owns the property bag and the rule manager,
// adopts child nodes assigned to properties, and rolls validity and busy
// state up the tree.
//
// Call Init with the outer entity before defining properties.
type ValidateBase struct {
	self Node
	bag  *props.Bag
	mgr  *rules.Manager

	mu     sync.RWMutex
	parent Node
	subs   []func()
}

var _ Validatable = &ValidateBase{}
var _ rules.Subject = &ValidateBase{}

// Init wires the base to the outer entity. It panics when called twice or
// without the outer entity, since both are programming errors in entity
// constructors.
func (vb *ValidateBase) Init(self Node, opts ...Option) {
	if vb.bag != nil {
		panic("entity: Init called twice")
	}
	if self == nil {
		panic("entity: Init requires the outer entity")
	}

	cfg := initConfig{lggr: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	vb.self = self
	vb.bag = props.NewBag()

	mgrOpts := append(cfg.mgrOpts, rules.WithMetaChanged(vb.metaChanged))
	vb.mgr = rules.NewManager(self, cfg.lggr, mgrOpts...)

	vb.bag.Guard(vb.vetPropertyChange)
	vb.bag.Observe(vb.onPropertyChange)
}

// Bag returns the entity's property bag for defining properties.
func (vb *ValidateBase) Bag() *props.Bag {
	return vb.bag
}

// RuleManager returns the entity's rule manager.
func (vb *ValidateBase) RuleManager() *rules.Manager {
	return vb.mgr
}

// PropertyValue returns the stored value of the named property.
//
// Implements the rules.Subject interface.
func (vb *ValidateBase) PropertyValue(name string) (any, error) {
	return vb.bag.Value(name)
}

// AddRule registers a rule. Every trigger must name a defined property.
func (vb *ValidateBase) AddRule(r rules.Rule) error {
	for _, trigger := range r.Triggers() {
		if !vb.bag.Has(trigger) {
			return fmt.Errorf("%w: rule %s trigger %s", props.ErrUnknownProperty, r.Def().ID, trigger)
		}
	}

	return vb.mgr.AddRule(r)
}

// AddRules registers rules, collecting any registration errors.
func (vb *ValidateBase) AddRules(rs ...rules.Rule) error {
	var errs []error
	for _, r := range rs {
		errs = append(errs, vb.AddRule(r))
	}

	return errors.Join(errs...)
}

// vetPropertyChange is the bag guard. A write that assigns a child node
// already owned by another tree is rejected before it is stored.
func (vb *ValidateBase) vetPropertyChange(_ context.Context, chg props.Change) error {
	next, ok := chg.New.(Node)
	if !ok || nodeIsNil(next) {
		return nil
	}

	if err := next.adoptBy(vb.self); err != nil {
		return fmt.Errorf("property %s: %w", chg.Name, err)
	}

	return nil
}

// onPropertyChange is the bag observer. It orphans a replaced child node,
// lets the outer entity track the modification, and hands the trigger to the
// rule manager.
func (vb *ValidateBase) onPropertyChange(ctx context.Context, chg props.Change) error {
	if old, ok := chg.Old.(Node); ok && !nodeIsNil(old) && old.Parent() == vb.self {
		old.orphan()
	}

	if m, ok := vb.self.(interface{ markModified(name string) }); ok {
		m.markModified(chg.Name)
	}

	return vb.mgr.PropertyChanged(ctx, chg.Name)
}

// Parent returns the owning node, or nil at the root of the tree.
func (vb *ValidateBase) Parent() Node {
	vb.mu.RLock()
	defer vb.mu.RUnlock()

	return vb.parent
}

// Root returns the top of the tree the entity belongs to.
func (vb *ValidateBase) Root() Node {
	p := vb.Parent()
	if p == nil {
		return vb.self
	}

	return p.Root()
}

func (vb *ValidateBase) adoptBy(parent Node) error {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	if vb.parent != nil && vb.parent != parent {
		return ErrAlreadyParented
	}
	vb.parent = parent

	return nil
}

func (vb *ValidateBase) orphan() {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	vb.parent = nil
}

func (vb *ValidateBase) childMetaChanged() {
	vb.metaChanged()
}

// OnMetaChanged subscribes to changes of the entity's meta state: validity,
// busy, modification and deletion flags, of itself or of any child.
// Callbacks run outside entity locks and may read entity state.
func (vb *ValidateBase) OnMetaChanged(fn func()) {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	vb.subs = append(vb.subs, fn)
}

// metaChanged notifies subscribers and bubbles toward the root.
func (vb *ValidateBase) metaChanged() {
	vb.mu.RLock()
	subs := slices.Clone(vb.subs)
	parent := vb.parent
	vb.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
	if parent != nil {
		parent.childMetaChanged()
	}
}

// IsSelfValid reports whether the entity itself carries no error messages,
// ignoring children.
func (vb *ValidateBase) IsSelfValid() bool {
	return vb.mgr.IsValid()
}

// IsValid reports whether the entity and all of its children carry no error
// messages.
func (vb *ValidateBase) IsValid() bool {
	if !vb.IsSelfValid() {
		return false
	}
	for _, c := range vb.validatableChildren() {
		if !c.IsValid() {
			return false
		}
	}

	return true
}

// IsSelfBusy reports whether the entity itself has rule runs in flight,
// ignoring children.
func (vb *ValidateBase) IsSelfBusy() bool {
	return vb.mgr.IsBusy()
}

// IsBusy reports whether the entity or any child has rule runs in flight.
func (vb *ValidateBase) IsBusy() bool {
	if vb.IsSelfBusy() {
		return true
	}
	for _, c := range vb.validatableChildren() {
		if c.IsBusy() {
			return true
		}
	}

	return false
}

// Messages returns the entity's own current rule messages.
func (vb *ValidateBase) Messages() []rules.Message {
	return vb.mgr.Messages()
}

// PropertyMessages returns the current messages attached to the named
// property.
func (vb *ValidateBase) PropertyMessages(name string) []rules.Message {
	return vb.mgr.PropertyMessages(name)
}

// PropertyIsBusy reports whether an async rule triggered by the named
// property is in flight.
func (vb *ValidateBase) PropertyIsBusy(name string) bool {
	return vb.mgr.PropertyIsBusy(name)
}

// RunRules runs the entity's rules triggered by the named properties.
func (vb *ValidateBase) RunRules(ctx context.Context, names ...string) error {
	return vb.mgr.RunRules(ctx, names...)
}

// RunAllRules runs every rule of the entity and its children.
func (vb *ValidateBase) RunAllRules(ctx context.Context) error {
	errs := []error{vb.mgr.RunAllRules(ctx)}
	for _, c := range vb.validatableChildren() {
		errs = append(errs, c.RunAllRules(ctx))
	}

	return errors.Join(errs...)
}

// WaitForRules blocks until the entity and its children have no rule runs
// in flight, or the context is done. It must not be called from inside a
// rule handler.
func (vb *ValidateBase) WaitForRules(ctx context.Context) error {
	for {
		if err := vb.mgr.WaitForRules(ctx); err != nil {
			return err
		}
		for _, c := range vb.validatableChildren() {
			if err := c.WaitForRules(ctx); err != nil {
				return err
			}
		}

		// A parent rule may have scheduled more work while children were
		// being awaited.
		if !vb.IsBusy() {
			return nil
		}
	}
}

// PauseAllActions suspends rule scheduling and modification tracking for the
// entity and its children until the returned ResumeFunc is called. Children
// adopted while paused are not covered by the pause.
func (vb *ValidateBase) PauseAllActions(mode rules.PauseMode) rules.ResumeFunc {
	resumes := []rules.ResumeFunc{vb.mgr.Pause(mode)}
	for _, c := range vb.validatableChildren() {
		resumes = append(resumes, c.PauseAllActions(mode))
	}

	return func(ctx context.Context) error {
		var errs []error
		for i := len(resumes) - 1; i >= 0; i-- {
			errs = append(errs, resumes[i](ctx))
		}

		return errors.Join(errs...)
	}
}

// MarshalJSON marshals the entity's properties. Child nodes stored in
// properties marshal recursively.
//
// Implements the json.Marshaler interface.
func (vb *ValidateBase) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Properties *props.Bag `json:"properties"`
	}{Properties: vb.bag})
}

// UnmarshalJSON restores the entity's properties without scheduling rules
// or tracking modifications. Child instances are decoded in place.
//
// Implements the json.Unmarshaler interface.
func (vb *ValidateBase) UnmarshalJSON(data []byte) error {
	var payload struct {
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	if len(payload.Properties) == 0 {
		return nil
	}

	if err := vb.bag.UnmarshalJSON(payload.Properties); err != nil {
		return err
	}

	return vb.adoptChildren()
}

// adoptChildren adopts child nodes that were restored into properties
// without passing through the bag guard.
func (vb *ValidateBase) adoptChildren() error {
	for _, n := range vb.childNodes() {
		if n.Parent() != nil {
			continue
		}
		if err := n.adoptBy(vb.self); err != nil {
			return err
		}
	}

	return nil
}

// childNodes returns the child nodes currently assigned to properties.
func (vb *ValidateBase) childNodes() []Node {
	var out []Node
	for _, v := range vb.bag.Values() {
		if n, ok := v.(Node); ok && !nodeIsNil(n) {
			out = append(out, n)
		}
	}

	return out
}

func (vb *ValidateBase) validatableChildren() []Validatable {
	var out []Validatable
	for _, n := range vb.childNodes() {
		if v, ok := n.(Validatable); ok {
			out = append(out, v)
		}
	}

	return out
}

func nodeIsNil(n Node) bool {
	if n == nil {
		return true
	}

	rv := reflect.ValueOf(n)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
