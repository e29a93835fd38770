package store

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/rubenv/pgtest"
	"github.com/stretchr/testify/require"

	// Register the embedded sql engine used by these tests.
	_ "github.com/proullon/ramsql/driver"
)

// openRamSQLStore opens a snapshot store backed by the embedded ramsql
// engine. The engine implements a subset of postgres; tests are skipped
// when it rejects the snapshot schema.
func openRamSQLStore(t *testing.T) *SQLSnapshotStore {
	t.Helper()

	db, err := sql.Open("ramsql", t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	s := NewSQLSnapshotStore(db)
	if err := s.EnsureSchema(t.Context()); err != nil {
		t.Skipf("skipping test, embedded engine rejected the snapshot schema: %v", err)
	}

	return s
}

func TestSQLSnapshotStore_AddAndGet(t *testing.T) {
	t.Parallel()

	s := openRamSQLStore(t)

	record := testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`)
	record.Meta = Meta{IsDeleted: true}
	record.Annotations = map[string]any{"source": "import"}

	added, err := s.Add(t.Context(), record)
	require.NoError(t, err)
	require.Equal(t, int64(1), added.Version)
	require.False(t, added.UpdatedAt.IsZero())

	_, err = s.Add(t.Context(), record)
	require.ErrorIs(t, err, ErrSnapshotExists)

	got, err := s.Get(t.Context(), NewSnapshotKey("customer", "cust-1"))
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Version)
	require.JSONEq(t, `{"firstName":"Ada"}`, string(got.State))
	require.Equal(t, Meta{IsDeleted: true}, got.Meta)
	require.Equal(t, map[string]any{"source": "import"}, got.Annotations)
	require.True(t, got.UpdatedAt.Equal(added.UpdatedAt))

	_, err = s.Get(t.Context(), NewSnapshotKey("customer", "missing"))
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSQLSnapshotStore_NullAnnotations(t *testing.T) {
	t.Parallel()

	s := openRamSQLStore(t)

	_, err := s.Add(t.Context(), testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`))
	require.NoError(t, err)

	got, err := s.Get(t.Context(), NewSnapshotKey("customer", "cust-1"))
	require.NoError(t, err)
	require.Nil(t, got.Annotations)
}

func TestSQLSnapshotStore_Update(t *testing.T) {
	t.Parallel()

	s := openRamSQLStore(t)

	added, err := s.Add(t.Context(), testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`))
	require.NoError(t, err)

	updated := added
	updated.State = json.RawMessage(`{"firstName":"Grace"}`)

	next, err := s.Update(t.Context(), updated)
	require.NoError(t, err)
	require.Equal(t, int64(2), next.Version)

	got, err := s.Get(t.Context(), added.Key())
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
	require.JSONEq(t, `{"firstName":"Grace"}`, string(got.State))

	// The original record still carries version 1 and must be rejected.
	_, err = s.Update(t.Context(), added)
	require.ErrorIs(t, err, ErrVersionConflict)

	_, err = s.Update(t.Context(), testSnapshot("customer", "missing", `{}`))
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSQLSnapshotStore_Upsert(t *testing.T) {
	t.Parallel()

	s := openRamSQLStore(t)

	first, err := s.Upsert(t.Context(), testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`))
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Version)

	second, err := s.Upsert(t.Context(), testSnapshot("customer", "cust-1", `{"firstName":"Grace"}`))
	require.NoError(t, err)
	require.Equal(t, int64(2), second.Version)

	got, err := s.Get(t.Context(), NewSnapshotKey("customer", "cust-1"))
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
	require.JSONEq(t, `{"firstName":"Grace"}`, string(got.State))
}

func TestSQLSnapshotStore_FetchAndFilter(t *testing.T) {
	t.Parallel()

	s := openRamSQLStore(t)

	for _, record := range []Snapshot{
		testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`),
		testSnapshot("customer", "cust-2", `{"firstName":"Grace"}`),
		testSnapshot("order", "ord-1", `{"number":"A-100"}`),
	} {
		_, err := s.Add(t.Context(), record)
		require.NoError(t, err)
	}

	records, err := s.Fetch(t.Context())
	require.NoError(t, err)
	require.Len(t, records, 3)

	customers, err := s.Filter(t.Context(), SnapshotByKind("customer"))
	require.NoError(t, err)
	require.Len(t, customers, 2)
	for _, record := range customers {
		require.Equal(t, "customer", record.Kind)
	}
}

func TestSQLSnapshotStore_Delete(t *testing.T) {
	t.Parallel()

	s := openRamSQLStore(t)

	added, err := s.Add(t.Context(), testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`))
	require.NoError(t, err)

	require.NoError(t, s.Delete(t.Context(), added.Key()))

	_, err = s.Get(t.Context(), added.Key())
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	require.ErrorIs(t, s.Delete(t.Context(), added.Key()), ErrSnapshotNotFound)
}

// TestSQLSnapshotStore_Postgres exercises the store against an embedded
// postgres instance. It is skipped when no postgres binary is available.
func TestSQLSnapshotStore_Postgres(t *testing.T) {
	pg, err := pgtest.Start()
	if err != nil {
		t.Skipf("skipping test, could not start embedded postgres: %v", err)
	}
	t.Cleanup(func() {
		require.NoError(t, pg.Stop())
	})

	s := NewSQLSnapshotStore(pg.DB)
	require.NoError(t, s.EnsureSchema(t.Context()))

	added, err := s.Add(t.Context(), testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`))
	require.NoError(t, err)
	require.Equal(t, int64(1), added.Version)

	updated := added
	updated.State = json.RawMessage(`{"firstName":"Grace"}`)

	next, err := s.Update(t.Context(), updated)
	require.NoError(t, err)
	require.Equal(t, int64(2), next.Version)

	got, err := s.Get(t.Context(), added.Key())
	require.NoError(t, err)
	require.JSONEq(t, `{"firstName":"Grace"}`, string(got.State))

	require.NoError(t, s.Delete(t.Context(), added.Key()))

	_, err = s.Get(t.Context(), added.Key())
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}
