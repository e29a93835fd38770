package props

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewNameSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		give []string
		want []string
	}{
		{
			name: "no names",
			give: []string{},
			want: []string{},
		},
		{
			name: "some names",
			give: []string{"FirstName", "LastName"},
			want: []string{"FirstName", "LastName"},
		},
		{
			name: "non unique names",
			give: []string{"FirstName", "LastName", "FirstName"},
			want: []string{"FirstName", "LastName"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := NewNameSet(tt.give...)

			require.Equal(t, len(tt.want), got.Length())
			for _, n := range tt.want {
				assert.True(t, got.Contains(n), "expected name '%s' in the set", n)
			}
		})
	}
}

func Test_NameSet_Add(t *testing.T) {
	t.Parallel()

	names := NewNameSet("Initial")
	names.Add("New")

	require.Equal(t, 2, names.Length())
	assert.True(t, names.Contains("Initial"))
	assert.True(t, names.Contains("New"))

	// Add duplicate "New" again; size should remain 2
	names.Add("New")
	require.Equal(t, 2, names.Length())

	t.Run("Add to nil elements NameSet", func(t *testing.T) {
		t.Parallel()

		var ns NameSet
		ns.Add("FirstName")

		require.Equal(t, 1, ns.Length())
		assert.True(t, ns.Contains("FirstName"))
	})
}

func Test_NameSet_Remove(t *testing.T) {
	t.Parallel()

	names := NewNameSet("RemoveMe", "Keep")
	names.Remove("RemoveMe")

	require.Equal(t, 1, names.Length())
	assert.False(t, names.Contains("RemoveMe"))
	assert.True(t, names.Contains("Keep"))

	// Removing a non-existent item shouldn't change the size
	names.Remove("NonExistent")
	require.Equal(t, 1, names.Length())
}

func Test_NameSet_Clear(t *testing.T) {
	t.Parallel()

	names := NewNameSet("FirstName", "LastName")
	names.Clear()

	require.Equal(t, 0, names.Length())
	assert.True(t, names.IsEmpty())

	// The set remains usable after Clear
	names.Add("FirstName")
	require.Equal(t, 1, names.Length())
}

func Test_NameSet_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		names NameSet
		want  string
	}{
		{
			name:  "Empty NameSet",
			names: NewNameSet(),
			want:  "",
		},
		{
			name:  "Single name",
			names: NewNameSet("Alpha"),
			want:  "Alpha",
		},
		{
			name:  "Multiple names in random order",
			names: NewNameSet("Beta", "Gamma", "Alpha"),
			want:  "Alpha Beta Gamma",
		},
		{
			name:  "Names with duplicate additions",
			names: NewNameSet("Alpha", "Beta", "Alpha", "Gamma", "Beta"),
			want:  "Alpha Beta Gamma",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.names.String()
			assert.Equal(t, tt.want, got, "NameSet.String() should return the expected sorted string")
		})
	}
}

func Test_NameSet_Equal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		set1 NameSet
		set2 NameSet
		want bool
	}{
		{
			name: "Both sets empty",
			set1: NewNameSet(),
			set2: NewNameSet(),
			want: true,
		},
		{
			name: "Identical sets with multiple names",
			set1: NewNameSet("A", "B", "C"),
			set2: NewNameSet("C", "B", "A"), // Different order
			want: true,
		},
		{
			name: "Different sets, same size",
			set1: NewNameSet("A", "B", "C"),
			set2: NewNameSet("A", "B", "D"),
			want: false,
		},
		{
			name: "Subset sets",
			set1: NewNameSet("A", "B"),
			set2: NewNameSet("A", "B", "C"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.set1.Equal(tt.set2)
			assert.Equal(t, tt.want, got, "Equal(%v, %v) should be %v", tt.set1, tt.set2, tt.want)
		})
	}
}

func Test_NameSet_Clone(t *testing.T) {
	t.Parallel()

	original := NewNameSet("FirstName", "LastName")
	clone := original.Clone()

	assert.Equal(t, original, clone, "Clone() should return an equal NameSet")

	clone.Add("Age")
	assert.NotEqual(t, original, clone, "Modifying the clone should not affect the original")
}

func Test_NameSet_MarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		give NameSet
		want string
	}{
		{
			name: "Empty set",
			give: NewNameSet(),
			want: `[]`,
		},
		{
			name: "Multiple names",
			give: NewNameSet("FirstName", "Age"),
			want: `["Age","FirstName"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := json.Marshal(&tt.give)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func Test_NameSet_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		give string
		want NameSet
	}{
		{
			name: "Empty set",
			give: `[]`,
			want: NewNameSet(),
		},
		{
			name: "Multiple names",
			give: `["FirstName", "Age"]`,
			want: NewNameSet("Age", "FirstName"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got NameSet
			err := json.Unmarshal([]byte(tt.give), &got)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
