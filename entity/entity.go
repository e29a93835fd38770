// Package entity provides the base types that business entities embed.
// ValidateBase wires a property bag to a rule manager and rolls validity and
// busy state up the entity tree. EditBase adds identity, modification
// tracking and persistence lifecycle marks. List holds editable children
// with deleted item tracking.
//
// An entity embeds one of the bases and calls Init with itself so the base
// can hand the outer value to rules and adoption:
//
//	type Customer struct {
//		entity.EditBase
//
//		FirstName props.Ref[string]
//	}
//
//	func NewCustomer(opts ...entity.Option) *Customer {
//		c := &Customer{}
//		c.Init(c, opts...)
//		c.FirstName = entity.Define(c, "FirstName", "")
//
//		return c
//	}
package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/entitykit/entitykit/props"
	"github.com/entitykit/entitykit/rules"
)

// ErrAlreadyParented is returned when a node that already belongs to a tree
// is assigned to another parent.
var ErrAlreadyParented = errors.New("entity already has a parent")

// Node is implemented by every member of an entity tree. It is satisfied by
// embedding ValidateBase or EditBase, or by using List.
type Node interface {
	// Parent returns the owning node, or nil at the root of the tree.
	Parent() Node

	// Root returns the top of the tree the node belongs to.
	Root() Node

	adoptBy(parent Node) error
	orphan()
	childMetaChanged()
}

// Validatable is an entity whose rules report validity and busy state,
// rolled up from its children.
type Validatable interface {
	Node

	// IsValid reports whether the entity and all of its children carry no
	// error messages.
	IsValid() bool

	// IsSelfValid reports whether the entity itself carries no error
	// messages, ignoring children.
	IsSelfValid() bool

	// IsBusy reports whether the entity or any child has rule runs in
	// flight.
	IsBusy() bool

	// IsSelfBusy reports whether the entity itself has rule runs in flight,
	// ignoring children.
	IsSelfBusy() bool

	// Messages returns the entity's own current rule messages.
	Messages() []rules.Message

	// RunAllRules runs every rule of the entity and its children.
	RunAllRules(ctx context.Context) error

	// WaitForRules blocks until the entity and its children have no rule
	// runs in flight, or the context is done.
	WaitForRules(ctx context.Context) error

	// PauseAllActions suspends rule scheduling and modification tracking for
	// the entity and its children until the returned ResumeFunc is called.
	PauseAllActions(mode rules.PauseMode) rules.ResumeFunc
}

// Editable is a Validatable entity with identity, modification tracking and
// a persistence lifecycle.
type Editable interface {
	Validatable

	// ID returns the entity's stable identity.
	ID() string

	// IsNew reports whether the entity has never been persisted.
	IsNew() bool

	// IsDeleted reports whether the entity is marked for deletion.
	IsDeleted() bool

	// IsChild reports whether the entity belongs to a parent and is
	// persisted through its root.
	IsChild() bool

	// IsModified reports whether the entity or any child has unsaved
	// changes.
	IsModified() bool

	// IsSelfModified reports whether the entity itself has unsaved changes,
	// ignoring children.
	IsSelfModified() bool

	// IsSavable reports whether the entity is a valid, modified, quiescent
	// root.
	IsSavable() bool

	// Delete marks the entity for deletion on the next save.
	Delete()

	// UnDelete clears a pending deletion.
	UnDelete()

	// MarkNew marks the entity as never persisted. Factories call it after
	// create and delete operations.
	MarkNew()

	// MarkOld marks the entity and its children as persisted. Factories
	// call it after fetch and save operations.
	MarkOld()

	// MarkUnmodified clears modification tracking on the entity and its
	// children. Factories call it after load and save operations.
	MarkUnmodified()
}

// Entity is the view of an initialized entity that package helpers need:
// a tree node that exposes its property bag.
type Entity interface {
	Node

	Bag() *props.Bag
}

// Define declares a property on the entity and returns its typed handle.
// When the initial value is a child node, such as a List or another entity,
// it is adopted immediately. Define panics on a duplicate property name or
// an already parented initial value, since both are programming errors in
// entity constructors.
func Define[T any](owner Entity, name string, initial T) props.Ref[T] {
	ref := props.Define[T](owner.Bag(), name, initial)

	if n, ok := any(initial).(Node); ok && !nodeIsNil(n) {
		if err := n.adoptBy(owner); err != nil {
			panic(fmt.Sprintf("entity: define %s: %v", name, err))
		}
	}

	return ref
}

// modifiable is the rollup view of a child that tracks modification.
type modifiable interface {
	IsModified() bool
}

// marker is the cascade surface for persistence marks.
type marker interface {
	MarkOld()
	MarkUnmodified()
}
