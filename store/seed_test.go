package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSeed(t *testing.T) {
	t.Parallel()

	t.Run("success: seeds snapshots from file", func(t *testing.T) {
		t.Parallel()

		s := NewMemorySnapshotStore()

		applied, err := LoadSeed(t.Context(), filepath.Join("testdata", "seed.yaml"), s)
		require.NoError(t, err)
		require.Len(t, applied, 3)
		for _, snap := range applied {
			require.Equal(t, int64(1), snap.Version)
		}

		got, err := s.Get(t.Context(), NewSnapshotKey("customer", "cust-1"))
		require.NoError(t, err)
		require.JSONEq(t, `{"firstName":"Ada","lastName":"Lovelace"}`, string(got.State))
		require.Equal(t, map[string]any{"source": "seed"}, got.Annotations)

		order, err := s.Get(t.Context(), NewSnapshotKey("order", "ord-1"))
		require.NoError(t, err)
		require.JSONEq(t, `{"number":"A-100","quantity":2}`, string(order.State))
	})

	t.Run("success: reseeding is idempotent", func(t *testing.T) {
		t.Parallel()

		s := NewMemorySnapshotStore()

		_, err := LoadSeed(t.Context(), filepath.Join("testdata", "seed.yaml"), s)
		require.NoError(t, err)

		applied, err := LoadSeed(t.Context(), filepath.Join("testdata", "seed.yaml"), s)
		require.NoError(t, err)
		require.Len(t, applied, 3)
		for _, snap := range applied {
			require.Equal(t, int64(2), snap.Version)
		}

		records, err := s.Fetch(t.Context())
		require.NoError(t, err)
		require.Len(t, records, 3)
	})

	t.Run("error: seed file does not exist", func(t *testing.T) {
		t.Parallel()

		_, err := LoadSeed(t.Context(), filepath.Join("testdata", "missing.yaml"), NewMemorySnapshotStore())
		require.Error(t, err)
		require.ErrorContains(t, err, "failed to read seed file")
	})
}

func TestApplySeed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		giveData      string
		expectedCount int
		expectedError string
	}{
		{
			name: "success: applies declared snapshots",
			giveData: `
snapshots:
  - kind: customer
    id: cust-1
    state:
      firstName: Ada
`,
			expectedCount: 1,
		},
		{
			name:          "success: empty seed data applies nothing",
			giveData:      "",
			expectedCount: 0,
		},
		{
			name: "error: snapshot missing kind",
			giveData: `
snapshots:
  - id: cust-1
    state:
      firstName: Ada
`,
			expectedError: "seed snapshot 0 is missing kind or id",
		},
		{
			name: "error: snapshot missing id",
			giveData: `
snapshots:
  - kind: customer
    state:
      firstName: Ada
`,
			expectedError: "seed snapshot 0 is missing kind or id",
		},
		{
			name:          "error: malformed yaml",
			giveData:      "snapshots: [",
			expectedError: "failed to parse seed data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewMemorySnapshotStore()
			applied, err := ApplySeed(t.Context(), []byte(tt.giveData), s)

			if tt.expectedError != "" {
				require.Error(t, err)
				require.ErrorContains(t, err, tt.expectedError)
			} else {
				require.NoError(t, err)
				require.Len(t, applied, tt.expectedCount)
			}
		})
	}
}
