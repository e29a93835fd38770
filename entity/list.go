package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/entitykit/entitykit/rules"
)

// List is an editable collection of child entities. Items are adopted when
// added; removing a persisted item keeps it in a deleted set so the next
// save can delete it from storage. A List is assigned to a property of its
// owning entity and participates in the tree's rollups.
type List[T Editable] struct {
	newItem func() T

	mu      sync.RWMutex
	parent  Node
	items   []T
	removed []T
	subs    []func()
}

var _ Validatable = &List[Editable]{}

// NewList creates an empty List. newItem constructs a blank item when the
// list is restored from serialized state; it may be nil for lists that never
// cross a process boundary.
func NewList[T Editable](newItem func() T) *List[T] {
	return &List[T]{newItem: newItem}
}

// Len returns the number of items in the list, excluding deleted items.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.items)
}

// At returns the item at index i. It panics when i is out of range, like a
// slice index.
func (l *List[T]) At(i int) T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.items[i]
}

// Items returns a copy of the current items.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.items)
}

// All returns an iterator over the current items.
func (l *List[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, item := range l.Items() {
			if !yield(i, item) {
				return
			}
		}
	}
}

// Deleted returns a copy of the removed items pending deletion on the next
// save.
func (l *List[T]) Deleted() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.removed)
}

// Add appends an item to the list, adopting it. It returns
// ErrAlreadyParented when the item belongs to another tree.
func (l *List[T]) Add(item T) error {
	if err := item.adoptBy(l); err != nil {
		return err
	}

	l.mu.Lock()
	l.items = append(l.items, item)
	l.mu.Unlock()

	l.metaChanged()

	return nil
}

// Insert inserts an item at index i, adopting it. It panics when i is out
// of range, like a slice index.
func (l *List[T]) Insert(i int, item T) error {
	if err := item.adoptBy(l); err != nil {
		return err
	}

	l.mu.Lock()
	l.items = slices.Insert(l.items, i, item)
	l.mu.Unlock()

	l.metaChanged()

	return nil
}

// RemoveAt removes and returns the item at index i. A persisted item is
// marked deleted and kept in the deleted set; an item that was never saved
// is released from the tree. It panics when i is out of range.
func (l *List[T]) RemoveAt(i int) T {
	l.mu.Lock()
	item := l.items[i]
	l.items = slices.Delete(l.items, i, i+1)
	keep := !item.IsNew()
	if keep {
		l.removed = append(l.removed, item)
	}
	l.mu.Unlock()

	if keep {
		item.Delete()
	} else {
		item.orphan()
	}

	l.metaChanged()

	return item
}

// Remove removes the item with the same identity from the list. It returns
// false when the item is not in the list.
func (l *List[T]) Remove(item T) bool {
	l.mu.RLock()
	idx := slices.IndexFunc(l.items, func(it T) bool { return it.ID() == item.ID() })
	l.mu.RUnlock()

	if idx < 0 {
		return false
	}
	l.RemoveAt(idx)

	return true
}

// Parent returns the owning node, or nil when the list is not assigned to
// an entity property.
func (l *List[T]) Parent() Node {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.parent
}

// Root returns the top of the tree the list belongs to.
func (l *List[T]) Root() Node {
	p := l.Parent()
	if p == nil {
		return l
	}

	return p.Root()
}

func (l *List[T]) adoptBy(parent Node) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.parent != nil && l.parent != parent {
		return ErrAlreadyParented
	}
	l.parent = parent

	return nil
}

func (l *List[T]) orphan() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.parent = nil
}

func (l *List[T]) childMetaChanged() {
	l.metaChanged()
}

// OnMetaChanged subscribes to meta state changes of the list's items.
func (l *List[T]) OnMetaChanged(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.subs = append(l.subs, fn)
}

func (l *List[T]) metaChanged() {
	l.mu.RLock()
	subs := slices.Clone(l.subs)
	parent := l.parent
	l.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
	if parent != nil {
		parent.childMetaChanged()
	}
}

// IsSelfValid always reports true; a list has no rules of its own.
func (l *List[T]) IsSelfValid() bool { return true }

// IsValid reports whether every item in the list is valid.
func (l *List[T]) IsValid() bool {
	for _, item := range l.Items() {
		if !item.IsValid() {
			return false
		}
	}

	return true
}

// IsSelfBusy always reports false; a list has no rules of its own.
func (l *List[T]) IsSelfBusy() bool { return false }

// IsBusy reports whether any item in the list has rule runs in flight.
func (l *List[T]) IsBusy() bool {
	for _, item := range l.Items() {
		if item.IsBusy() {
			return true
		}
	}

	return false
}

// Messages returns nil; a list has no rules of its own.
func (l *List[T]) Messages() []rules.Message { return nil }

// IsModified reports whether any item is modified or any removed item
// awaits deletion.
func (l *List[T]) IsModified() bool {
	l.mu.RLock()
	removed := len(l.removed)
	l.mu.RUnlock()

	if removed > 0 {
		return true
	}
	for _, item := range l.Items() {
		if item.IsModified() {
			return true
		}
	}

	return false
}

// RunAllRules runs every rule of every item.
func (l *List[T]) RunAllRules(ctx context.Context) error {
	var errs []error
	for _, item := range l.Items() {
		errs = append(errs, item.RunAllRules(ctx))
	}

	return errors.Join(errs...)
}

// WaitForRules blocks until no item has rule runs in flight, or the context
// is done.
func (l *List[T]) WaitForRules(ctx context.Context) error {
	for {
		for _, item := range l.Items() {
			if err := item.WaitForRules(ctx); err != nil {
				return err
			}
		}
		if !l.IsBusy() {
			return nil
		}
	}
}

// PauseAllActions suspends rule scheduling and modification tracking for
// every item until the returned ResumeFunc is called.
func (l *List[T]) PauseAllActions(mode rules.PauseMode) rules.ResumeFunc {
	var resumes []rules.ResumeFunc
	for _, item := range l.Items() {
		resumes = append(resumes, item.PauseAllActions(mode))
	}

	return func(ctx context.Context) error {
		var errs []error
		for i := len(resumes) - 1; i >= 0; i-- {
			errs = append(errs, resumes[i](ctx))
		}

		return errors.Join(errs...)
	}
}

// MarkOld marks every item as persisted.
func (l *List[T]) MarkOld() {
	for _, item := range l.Items() {
		item.MarkOld()
	}
}

// MarkUnmodified clears modification tracking on every item and releases
// the deleted set.
func (l *List[T]) MarkUnmodified() {
	l.mu.Lock()
	removed := l.removed
	l.removed = nil
	l.mu.Unlock()

	for _, item := range removed {
		item.orphan()
	}
	for _, item := range l.Items() {
		item.MarkUnmodified()
	}
}

// MarshalJSON marshals the list's items and deleted set.
//
// Implements the json.Marshaler interface.
func (l *List[T]) MarshalJSON() ([]byte, error) {
	l.mu.RLock()
	items := slices.Clone(l.items)
	removed := slices.Clone(l.removed)
	l.mu.RUnlock()

	return json.Marshal(struct {
		Items   []T `json:"items"`
		Removed []T `json:"removed,omitempty"`
	}{Items: items, Removed: removed})
}

// UnmarshalJSON replaces the list's contents with the serialized items,
// constructing each through the list's newItem function.
//
// Implements the json.Unmarshaler interface.
func (l *List[T]) UnmarshalJSON(data []byte) error {
	if l.newItem == nil {
		return errors.New("entity: list has no item constructor")
	}

	var payload struct {
		Items   []json.RawMessage `json:"items"`
		Removed []json.RawMessage `json:"removed"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	decode := func(raws []json.RawMessage) ([]T, error) {
		out := make([]T, 0, len(raws))
		for i, raw := range raws {
			item := l.newItem()
			um, ok := any(item).(json.Unmarshaler)
			if !ok {
				return nil, fmt.Errorf("entity: list item %T does not unmarshal", item)
			}
			if err := um.UnmarshalJSON(raw); err != nil {
				return nil, fmt.Errorf("list item %d: %w", i, err)
			}
			if err := item.adoptBy(l); err != nil {
				return nil, fmt.Errorf("list item %d: %w", i, err)
			}
			out = append(out, item)
		}

		return out, nil
	}

	items, err := decode(payload.Items)
	if err != nil {
		return err
	}
	removed, err := decode(payload.Removed)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.items = items
	l.removed = removed
	l.mu.Unlock()

	return nil
}
