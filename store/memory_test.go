package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// testSnapshot builds an unversioned snapshot fixture.
func testSnapshot(kind, id, state string) Snapshot {
	return Snapshot{Kind: kind, ID: id, State: json.RawMessage(state)}
}

func TestMemorySnapshotStore_indexOf(t *testing.T) {
	t.Parallel()

	var (
		recordOne = testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`)
		recordTwo = testSnapshot("customer", "cust-2", `{"firstName":"Grace"}`)
	)

	tests := []struct {
		name          string
		givenState    []Snapshot
		giveKey       SnapshotKey
		expectedIndex int
	}{
		{
			name:          "success: returns index of record",
			givenState:    []Snapshot{recordOne, recordTwo},
			giveKey:       recordTwo.Key(),
			expectedIndex: 1,
		},
		{
			name:          "success: returns -1 if record not found",
			givenState:    []Snapshot{recordOne},
			giveKey:       recordTwo.Key(),
			expectedIndex: -1,
		},
		{
			name:          "success: kind distinguishes records with the same id",
			givenState:    []Snapshot{recordOne, testSnapshot("order", "cust-1", `{}`)},
			giveKey:       NewSnapshotKey("order", "cust-1"),
			expectedIndex: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := MemorySnapshotStore{Records: tt.givenState}
			idx := store.indexOf(tt.giveKey)
			require.Equal(t, tt.expectedIndex, idx)
		})
	}
}

func TestMemorySnapshotStore_Add(t *testing.T) {
	t.Parallel()

	var (
		record = testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`)
	)

	tests := []struct {
		name          string
		givenState    []Snapshot
		giveRecord    Snapshot
		expectedError error
	}{
		{
			name:       "success: adds new record",
			givenState: []Snapshot{},
			giveRecord: record,
		},
		{
			name:          "error: already existing record",
			givenState:    []Snapshot{record},
			giveRecord:    record,
			expectedError: ErrSnapshotExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := MemorySnapshotStore{Records: tt.givenState}
			got, err := store.Add(t.Context(), tt.giveRecord)

			if tt.expectedError != nil {
				require.Error(t, err)
				require.ErrorIs(t, err, tt.expectedError)
			} else {
				require.NoError(t, err)
				require.Equal(t, int64(1), got.Version)
				require.False(t, got.UpdatedAt.IsZero())
				require.Len(t, store.Records, 1)
				require.Equal(t, int64(1), store.Records[0].Version)
				require.JSONEq(t, `{"firstName":"Ada"}`, string(store.Records[0].State))
			}
		})
	}
}

func TestMemorySnapshotStore_Get(t *testing.T) {
	t.Parallel()

	var (
		record = Snapshot{
			Kind:    "customer",
			ID:      "cust-1",
			Version: 1,
			State:   json.RawMessage(`{"firstName":"Ada"}`),
		}
	)

	tests := []struct {
		name          string
		givenState    []Snapshot
		giveKey       SnapshotKey
		expectedError error
	}{
		{
			name:       "success: returns record",
			givenState: []Snapshot{record},
			giveKey:    record.Key(),
		},
		{
			name:          "error: record not found",
			givenState:    []Snapshot{},
			giveKey:       record.Key(),
			expectedError: ErrSnapshotNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := MemorySnapshotStore{Records: tt.givenState}
			got, err := store.Get(t.Context(), tt.giveKey)

			if tt.expectedError != nil {
				require.Error(t, err)
				require.ErrorIs(t, err, tt.expectedError)
			} else {
				require.NoError(t, err)
				require.Equal(t, record.Kind, got.Kind)
				require.Equal(t, record.ID, got.ID)
				require.Equal(t, record.Version, got.Version)
				require.JSONEq(t, string(record.State), string(got.State))
			}
		})
	}
}

func TestMemorySnapshotStore_Get_ReturnsClone(t *testing.T) {
	t.Parallel()

	store := NewMemorySnapshotStore()
	_, err := store.Add(t.Context(), testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`))
	require.NoError(t, err)

	got, err := store.Get(t.Context(), NewSnapshotKey("customer", "cust-1"))
	require.NoError(t, err)

	// Mutating the returned state must not touch the stored record.
	got.State[2] = 'X'

	again, err := store.Get(t.Context(), NewSnapshotKey("customer", "cust-1"))
	require.NoError(t, err)
	require.JSONEq(t, `{"firstName":"Ada"}`, string(again.State))
}

func TestMemorySnapshotStore_Fetch(t *testing.T) {
	t.Parallel()

	var (
		recordOne = testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`)
		recordTwo = testSnapshot("order", "ord-1", `{"number":"A-100"}`)
	)

	store := NewMemorySnapshotStore()
	_, err := store.Add(t.Context(), recordOne)
	require.NoError(t, err)
	_, err = store.Add(t.Context(), recordTwo)
	require.NoError(t, err)

	records, err := store.Fetch(t.Context())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.True(t, records[0].Key().Equals(recordOne.Key()))
	require.True(t, records[1].Key().Equals(recordTwo.Key()))
}

func TestMemorySnapshotStore_Filter(t *testing.T) {
	t.Parallel()

	var (
		recordOne   = testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`)
		recordTwo   = testSnapshot("customer", "cust-2", `{"firstName":"Grace"}`)
		recordThree = testSnapshot("order", "ord-1", `{"number":"A-100"}`)
	)

	store := NewMemorySnapshotStore()
	for _, record := range []Snapshot{recordOne, recordTwo, recordThree} {
		_, err := store.Add(t.Context(), record)
		require.NoError(t, err)
	}

	t.Run("success: no filters returns all records", func(t *testing.T) {
		t.Parallel()

		records, err := store.Filter(t.Context())
		require.NoError(t, err)
		require.Len(t, records, 3)
	})

	t.Run("success: filters are applied in order", func(t *testing.T) {
		t.Parallel()

		records, err := store.Filter(t.Context(),
			SnapshotByKind("customer"),
			SnapshotByID("cust-2"),
		)
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, "cust-2", records[0].ID)
	})
}

func TestMemorySnapshotStore_Upsert(t *testing.T) {
	t.Parallel()

	store := NewMemorySnapshotStore()

	first, err := store.Upsert(t.Context(), testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`))
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Version)

	// A stale version on the incoming record is ignored.
	replacement := testSnapshot("customer", "cust-1", `{"firstName":"Ada","lastName":"Lovelace"}`)
	replacement.Version = 99

	second, err := store.Upsert(t.Context(), replacement)
	require.NoError(t, err)
	require.Equal(t, int64(2), second.Version)
	require.Len(t, store.Records, 1)

	got, err := store.Get(t.Context(), NewSnapshotKey("customer", "cust-1"))
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
	require.JSONEq(t, `{"firstName":"Ada","lastName":"Lovelace"}`, string(got.State))
}

func TestMemorySnapshotStore_Update(t *testing.T) {
	t.Parallel()

	var (
		stored = Snapshot{
			Kind:    "customer",
			ID:      "cust-1",
			Version: 1,
			State:   json.RawMessage(`{"firstName":"Ada"}`),
		}
	)

	tests := []struct {
		name            string
		givenState      []Snapshot
		giveRecord      Snapshot
		expectedVersion int64
		expectedError   error
	}{
		{
			name:       "success: updates record with matching version",
			givenState: []Snapshot{stored},
			giveRecord: Snapshot{
				Kind:    "customer",
				ID:      "cust-1",
				Version: 1,
				State:   json.RawMessage(`{"firstName":"Grace"}`),
			},
			expectedVersion: 2,
		},
		{
			name:       "error: version conflict",
			givenState: []Snapshot{stored},
			giveRecord: Snapshot{
				Kind:    "customer",
				ID:      "cust-1",
				Version: 9,
				State:   json.RawMessage(`{"firstName":"Grace"}`),
			},
			expectedError: ErrVersionConflict,
		},
		{
			name:          "error: record not found",
			givenState:    []Snapshot{},
			giveRecord:    stored,
			expectedError: ErrSnapshotNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := MemorySnapshotStore{Records: tt.givenState}
			got, err := store.Update(t.Context(), tt.giveRecord)

			if tt.expectedError != nil {
				require.Error(t, err)
				require.ErrorIs(t, err, tt.expectedError)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.expectedVersion, got.Version)
				require.Equal(t, tt.expectedVersion, store.Records[0].Version)
				require.JSONEq(t, string(tt.giveRecord.State), string(store.Records[0].State))
			}
		})
	}
}

func TestMemorySnapshotStore_Delete(t *testing.T) {
	t.Parallel()

	var (
		record = testSnapshot("customer", "cust-1", `{"firstName":"Ada"}`)
	)

	tests := []struct {
		name          string
		givenState    []Snapshot
		giveKey       SnapshotKey
		expectedError error
	}{
		{
			name:       "success: removes record",
			givenState: []Snapshot{record},
			giveKey:    record.Key(),
		},
		{
			name:          "error: record not found",
			givenState:    []Snapshot{},
			giveKey:       record.Key(),
			expectedError: ErrSnapshotNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := MemorySnapshotStore{Records: tt.givenState}
			err := store.Delete(t.Context(), tt.giveKey)

			if tt.expectedError != nil {
				require.Error(t, err)
				require.ErrorIs(t, err, tt.expectedError)
			} else {
				require.NoError(t, err)
				require.Empty(t, store.Records)
			}
		})
	}
}
