package entitytest

import (
	"github.com/Masterminds/semver/v3"

	"github.com/entitykit/entitykit/entity"
	"github.com/entitykit/entitykit/factory"
	"github.com/entitykit/entitykit/store"
)

// CustomerKind is the Customer factory ID and snapshot kind.
const CustomerKind = "customer"

var factoryVersion = semver.MustParse("1.0.0")

// ByID selects one aggregate by its identifier.
type ByID struct {
	ID string `json:"id"`
}

// WithNames carries the initial name parts for a new Customer.
type WithNames struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// MustNewCustomer builds a Customer and panics on failure.
func MustNewCustomer(opts ...entity.Option) *Customer {
	c, err := NewCustomer(opts...)
	if err != nil {
		panic(err)
	}

	return c
}

// MustNewOrder builds an Order and panics on failure.
func MustNewOrder(opts ...entity.Option) *Order {
	o, err := NewOrder(opts...)
	if err != nil {
		panic(err)
	}

	return o
}

// CustomerSnapshot wraps the customer's serialized state in a snapshot
// keyed by CustomerKind and the customer ID.
func CustomerSnapshot(c *Customer) (store.Snapshot, error) {
	snap, err := store.NewSnapshot(CustomerKind, c.ID(), c)
	if err != nil {
		return store.Snapshot{}, err
	}
	snap.Meta = store.Meta{IsNew: c.IsNew(), IsDeleted: c.IsDeleted()}

	return snap, nil
}

// NewCustomerFactory builds a fully registered Customer factory backed by
// the given snapshot store. Create accepts empty criteria or WithNames,
// fetch selects by ByID, and the write handlers persist snapshots. All
// operations are marked remote so the factory dispatches through an
// executor when one is configured.
func NewCustomerFactory(snaps store.MutableSnapshotStore, opts ...factory.Option[*Customer]) *factory.Factory[*Customer] {
	newT := func(b factory.Bundle) *Customer {
		return MustNewCustomer(entity.WithLogger(b.Logger), entity.WithRecorder(b.Recorder))
	}

	f := factory.New(CustomerKind, factoryVersion, "sample customer aggregate", newT, opts...)

	factory.RegisterCreate(f, func(_ factory.Bundle, _ *Customer, _ factory.EmptyCriteria) error {
		return nil
	}, factory.WithRemote())

	factory.RegisterCreate(f, func(b factory.Bundle, target *Customer, criteria WithNames) error {
		ctx := b.GetContext()
		if err := target.FirstName.Set(ctx, criteria.FirstName); err != nil {
			return err
		}

		return target.LastName.Set(ctx, criteria.LastName)
	}, factory.WithRemote())

	factory.RegisterFetch(f, func(b factory.Bundle, target *Customer, criteria ByID) error {
		snap, err := snaps.Get(b.GetContext(), store.NewSnapshotKey(CustomerKind, criteria.ID))
		if err != nil {
			return err
		}

		return snap.UnpackState(target)
	}, factory.WithRemote())

	f.RegisterInsert(func(b factory.Bundle, target *Customer) error {
		snap, err := CustomerSnapshot(target)
		if err != nil {
			return err
		}
		_, err = snaps.Add(b.GetContext(), snap)

		return err
	}, factory.WithRemote())

	f.RegisterUpdate(func(b factory.Bundle, target *Customer) error {
		snap, err := CustomerSnapshot(target)
		if err != nil {
			return err
		}
		_, err = snaps.Upsert(b.GetContext(), snap)

		return err
	}, factory.WithRemote())

	f.RegisterDelete(func(b factory.Bundle, target *Customer) error {
		return snaps.Delete(b.GetContext(), store.NewSnapshotKey(CustomerKind, target.ID()))
	}, factory.WithRemote())

	return f
}
