package factory_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entitykit/entitykit/entity/entitytest"
	"github.com/entitykit/entitykit/factory"
	"github.com/entitykit/entitykit/pkg/logger"
	"github.com/entitykit/entitykit/store"
)

func Test_Factory_Remote_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	serverSnaps := store.NewMemorySnapshotStore()
	clientSnaps := store.NewMemorySnapshotStore()

	dispatcher := factory.NewDispatcher(logger.Test(t))
	dispatcher.Register(entitytest.NewCustomerFactory(serverSnaps))

	client := entitytest.NewCustomerFactory(clientSnaps,
		factory.WithExecutor[*entitytest.Customer](factory.Loopback(dispatcher)))
	b := newTestBundle(t)

	created, err := client.Create(b, entitytest.WithNames{FirstName: "Ada", LastName: "Lovelace"})
	require.NoError(t, err)
	require.True(t, created.IsNew())
	require.True(t, created.IsValid())
	require.Equal(t, "Ada Lovelace", created.FullName.Get())

	saved, err := client.Save(b, created)
	require.NoError(t, err)
	require.Equal(t, created.ID(), saved.ID())
	require.False(t, saved.IsNew())
	require.False(t, saved.IsModified())

	// Writes land in the server store only.
	inServer, err := serverSnaps.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, inServer, 1)

	inClient, err := clientSnaps.Fetch(ctx)
	require.NoError(t, err)
	require.Empty(t, inClient)

	require.NoError(t, saved.Email.Set(ctx, "ada@example.com"))

	saved, err = client.Save(b, saved)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", saved.Email.Get())
	require.False(t, saved.IsModified())

	snap, err := serverSnaps.Get(ctx, store.NewSnapshotKey(entitytest.CustomerKind, saved.ID()))
	require.NoError(t, err)
	require.Equal(t, int64(2), snap.Version)

	fetched, err := client.Fetch(b, entitytest.ByID{ID: saved.ID()})
	require.NoError(t, err)
	require.Equal(t, "Ada", fetched.FirstName.Get())
	require.Equal(t, "ada@example.com", fetched.Email.Get())
	require.False(t, fetched.IsNew())
	require.False(t, fetched.IsModified())

	fetched.Delete()
	gone, err := client.Save(b, fetched)
	require.NoError(t, err)
	require.Nil(t, gone)

	inServer, err = serverSnaps.Fetch(ctx)
	require.NoError(t, err)
	require.Empty(t, inServer)
}

func Test_Factory_Remote_ChildRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	snaps := store.NewMemorySnapshotStore()

	dispatcher := factory.NewDispatcher(logger.Test(t))
	dispatcher.Register(entitytest.NewCustomerFactory(snaps))

	client := entitytest.NewCustomerFactory(store.NewMemorySnapshotStore(),
		factory.WithExecutor[*entitytest.Customer](factory.Loopback(dispatcher)))
	b := newTestBundle(t)

	created, err := client.Create(b, entitytest.WithNames{FirstName: "Grace", LastName: "Hopper"})
	require.NoError(t, err)

	order := entitytest.MustNewOrder()
	require.NoError(t, order.Number.Set(ctx, "A-100"))
	require.NoError(t, order.Quantity.Set(ctx, 2))
	require.NoError(t, order.UnitPrice.Set(ctx, 9.5))
	require.NoError(t, order.WaitForRules(ctx))
	require.NoError(t, created.Orders.Get().Add(order))

	saved, err := client.Save(b, created)
	require.NoError(t, err)

	fetched, err := client.Fetch(b, entitytest.ByID{ID: saved.ID()})
	require.NoError(t, err)

	orders := fetched.Orders.Get()
	require.Equal(t, 1, orders.Len())
	require.Equal(t, "A-100", orders.At(0).Number.Get())
	require.Equal(t, 2, orders.At(0).Quantity.Get())
	require.InEpsilon(t, 19.0, orders.At(0).Total.Get(), 0.0001)
	require.True(t, orders.At(0).IsChild())
	require.False(t, fetched.IsModified())
}

func Test_Factory_Remote_FallsBackToLocal(t *testing.T) {
	t.Parallel()

	// No executor configured, so remote marked handlers run in process.
	snaps := store.NewMemorySnapshotStore()
	f := entitytest.NewCustomerFactory(snaps)
	b := newTestBundle(t)

	created, err := f.Create(b, entitytest.WithNames{FirstName: "Ada", LastName: "Lovelace"})
	require.NoError(t, err)

	saved, err := f.Save(b, created)
	require.NoError(t, err)

	_, err = snaps.Get(t.Context(), store.NewSnapshotKey(entitytest.CustomerKind, saved.ID()))
	require.NoError(t, err)
}

func Test_Dispatcher_Dispatch(t *testing.T) {
	t.Parallel()

	newDispatcher := func(t *testing.T, snaps store.MutableSnapshotStore) *factory.Dispatcher {
		t.Helper()

		d := factory.NewDispatcher(logger.Test(t))
		d.Register(entitytest.NewCustomerFactory(snaps))

		return d
	}

	t.Run("success: create returns a snapshot and validation messages", func(t *testing.T) {
		t.Parallel()

		d := newDispatcher(t, store.NewMemorySnapshotStore())

		resp, err := d.Dispatch(t.Context(), factory.Request{
			Factory: entitytest.CustomerKind,
			Op:      factory.OpCreate,
			Method:  "factory.EmptyCriteria",
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Snapshot)
		require.True(t, resp.Snapshot.Meta.IsNew)
		require.NotEmpty(t, resp.Messages)
	})

	t.Run("success: criteria decodes from the wire", func(t *testing.T) {
		t.Parallel()

		d := newDispatcher(t, store.NewMemorySnapshotStore())

		resp, err := d.Dispatch(t.Context(), factory.Request{
			Factory:  entitytest.CustomerKind,
			Op:       factory.OpCreate,
			Method:   "entitytest.WithNames",
			Criteria: json.RawMessage(`{"firstName": "Ada", "lastName": "Lovelace"}`),
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Snapshot)
		require.Empty(t, resp.Messages)

		c := entitytest.MustNewCustomer()
		require.NoError(t, resp.Snapshot.UnpackState(c))
		require.Equal(t, "Ada Lovelace", c.FullName.Get())
	})

	t.Run("error: unknown factory", func(t *testing.T) {
		t.Parallel()

		d := newDispatcher(t, store.NewMemorySnapshotStore())

		_, err := d.Dispatch(t.Context(), factory.Request{Factory: "invoice", Op: factory.OpCreate})
		require.ErrorIs(t, err, factory.ErrNotRegistered)
	})

	t.Run("error: unknown method", func(t *testing.T) {
		t.Parallel()

		d := newDispatcher(t, store.NewMemorySnapshotStore())

		_, err := d.Dispatch(t.Context(), factory.Request{
			Factory: entitytest.CustomerKind,
			Op:      factory.OpFetch,
			Method:  "by-email",
		})
		require.ErrorIs(t, err, factory.ErrNoHandler)
	})

	t.Run("error: unknown op", func(t *testing.T) {
		t.Parallel()

		d := newDispatcher(t, store.NewMemorySnapshotStore())

		_, err := d.Dispatch(t.Context(), factory.Request{Factory: entitytest.CustomerKind, Op: "replicate"})
		require.ErrorContains(t, err, "unknown op")
	})

	t.Run("error: write without a snapshot", func(t *testing.T) {
		t.Parallel()

		d := newDispatcher(t, store.NewMemorySnapshotStore())

		_, err := d.Dispatch(t.Context(), factory.Request{
			Factory: entitytest.CustomerKind,
			Op:      factory.OpInsert,
		})
		require.ErrorContains(t, err, "no snapshot")
	})
}

func Test_Dispatcher_Register_Duplicate(t *testing.T) {
	t.Parallel()

	d := factory.NewDispatcher(logger.Test(t))
	d.Register(entitytest.NewCustomerFactory(store.NewMemorySnapshotStore()))

	require.Panics(t, func() {
		d.Register(entitytest.NewCustomerFactory(store.NewMemorySnapshotStore()))
	})
}
