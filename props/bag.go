// Package props provides the observable property containers that back
// entity types. A Bag owns the stored values for one entity, vets writes
// through an optional guard, reports every accepted write to a single
// observer, and suppresses writes that do not change the stored value.
// Typed access goes through Ref handles created with Define.
package props

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	// ErrUnknownProperty is returned when a property name was never defined
	// on the bag.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrDuplicateProperty is returned when a property name is defined twice
	// on the same bag.
	ErrDuplicateProperty = errors.New("duplicate property")
)

// Change describes a single accepted property write. Old is the value that
// was stored before the write.
type Change struct {
	Name string
	Old  any
	New  any
}

// Observer receives each accepted property write after the new value is
// stored. An error aborts the caller's Set but the stored value is kept.
type Observer func(ctx context.Context, chg Change) error

// GuardFunc vets a pending write before it is stored. An error aborts the
// write and leaves the stored value unchanged.
type GuardFunc func(ctx context.Context, chg Change) error

// Equaler lets property values replace the default sameness check applied
// on writes.
type Equaler interface {
	Equal(other any) bool
}

type slot struct {
	name   string
	value  any
	decode func(data []byte) (any, error)
}

// Bag holds the property values for a single entity. Values are stored by
// name in declaration order. A Bag is safe for concurrent use, except that
// properties must be fully defined before the bag is shared.
type Bag struct {
	mu       sync.RWMutex
	slots    map[string]*slot
	order    []string
	guard    GuardFunc
	observer Observer
}

// NewBag returns an empty Bag with no properties defined.
func NewBag() *Bag {
	return &Bag{
		slots: make(map[string]*slot),
	}
}

// Observe installs the observer that receives accepted writes. A bag has at
// most one observer; installing a new one replaces the previous.
func (b *Bag) Observe(fn Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observer = fn
}

// Guard installs the guard consulted before each write is stored. A bag has
// at most one guard; installing a new one replaces the previous.
func (b *Bag) Guard(fn GuardFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.guard = fn
}

func (b *Bag) define(name string, initial any, decode func(data []byte) (any, error)) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownProperty)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.slots[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProperty, name)
	}

	b.slots[name] = &slot{name: name, value: initial, decode: decode}
	b.order = append(b.order, name)

	return nil
}

// Has reports whether the property name was defined on the bag.
func (b *Bag) Has(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.slots[name]

	return ok
}

// Value returns the stored value for the property name.
func (b *Bag) Value(name string) (any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.slots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}

	return s.value, nil
}

// Set stores a new value for the property name and notifies the observer.
// Writes that do not change the stored value are suppressed and do not reach
// the guard or the observer. The guard and the observer run without the bag
// lock held, so both may read or write other properties of the same bag.
func (b *Bag) Set(ctx context.Context, name string, value any) error {
	b.mu.RLock()
	s, ok := b.slots[name]
	if !ok {
		b.mu.RUnlock()

		return fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	old := s.value
	guard := b.guard
	b.mu.RUnlock()

	if equalValues(old, value) {
		return nil
	}

	if guard != nil {
		if err := guard(ctx, Change{Name: name, Old: old, New: value}); err != nil {
			return err
		}
	}

	b.mu.Lock()
	// Re-read under the write lock; a concurrent writer may have won the
	// race while the guard ran.
	old = s.value
	if equalValues(old, value) {
		b.mu.Unlock()

		return nil
	}
	s.value = value
	observer := b.observer
	b.mu.Unlock()

	if observer == nil {
		return nil
	}

	return observer(ctx, Change{Name: name, Old: old, New: value})
}

// Names returns the property names in declaration order.
func (b *Bag) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, len(b.order))
	copy(names, b.order)

	return names
}

// Values returns a snapshot of all property values keyed by name.
func (b *Bag) Values() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	values := make(map[string]any, len(b.slots))
	for name, s := range b.slots {
		values[name] = s.value
	}

	return values
}

// MarshalJSON marshals the bag as a JSON object with properties in
// declaration order.
//
// Implements the json.Marshaler interface.
func (b *Bag) MarshalJSON() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var buf []byte
	buf = append(buf, '{')
	for i, name := range b.order {
		if i > 0 {
			buf = append(buf, ',')
		}

		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')

		val, err := json.Marshal(b.slots[name].value)
		if err != nil {
			return nil, fmt.Errorf("marshal property %s: %w", name, err)
		}
		buf = append(buf, val...)
	}
	buf = append(buf, '}')

	return buf, nil
}

// UnmarshalJSON restores property values from a JSON object produced by
// MarshalJSON. Values are written directly without notifying the observer.
// Stored values that implement json.Unmarshaler are decoded in place so that
// child instances keep their identity. Unknown keys are rejected.
//
// Implements the json.Unmarshaler interface.
func (b *Bag) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for name, rv := range raw {
		s, ok := b.slots[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownProperty, name)
		}

		if um, ok := s.value.(json.Unmarshaler); ok && !isNilValue(s.value) {
			if err := um.UnmarshalJSON(rv); err != nil {
				return fmt.Errorf("unmarshal property %s: %w", name, err)
			}

			continue
		}

		if s.decode != nil {
			v, err := s.decode(rv)
			if err != nil {
				return fmt.Errorf("unmarshal property %s: %w", name, err)
			}
			s.value = v

			continue
		}

		var v any
		if err := json.Unmarshal(rv, &v); err != nil {
			return fmt.Errorf("unmarshal property %s: %w", name, err)
		}
		s.value = v
	}

	return nil
}

// equalValues decides whether a write changes the stored value. Values may
// opt in to a custom check through Equaler. Pointers, maps, channels and
// functions compare by identity, matching assignment semantics for entity
// children. Everything else compares by value.
func equalValues(old, next any) bool {
	if old == nil || next == nil {
		return old == nil && next == nil
	}

	if eq, ok := next.(Equaler); ok {
		return eq.Equal(old)
	}

	ov, nv := reflect.ValueOf(old), reflect.ValueOf(next)
	if ov.Type() != nv.Type() {
		return false
	}

	switch nv.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Func:
		return ov.Pointer() == nv.Pointer()
	case reflect.Slice:
		return ov.IsNil() == nv.IsNil() && ov.Len() == nv.Len() && ov.Pointer() == nv.Pointer()
	default:
		return reflect.DeepEqual(old, next)
	}
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
