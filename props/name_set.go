package props

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// NameSet represents a set of property names on an entity.
type NameSet struct {
	elements map[string]struct{}
}

// NewNameSet initializes a new NameSet with any number of property names.
func NewNameSet(names ...string) NameSet {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	return NameSet{
		elements: set,
	}
}

// Add inserts one or more property names into the set.
func (s *NameSet) Add(names ...string) {
	if s.elements == nil {
		s.elements = make(map[string]struct{})
	}
	for _, n := range names {
		s.elements[n] = struct{}{}
	}
}

// Remove deletes a property name from the set, if it exists.
func (s *NameSet) Remove(name string) {
	delete(s.elements, name)
}

// Contains checks if the set contains the given property name.
func (s *NameSet) Contains(name string) bool {
	_, ok := s.elements[name]

	return ok
}

// String returns the property names as a sorted, space-separated string.
//
// Implements the fmt.Stringer interface.
func (s *NameSet) String() string {
	names := s.List()
	if len(names) == 0 {
		return ""
	}

	// Concatenate the sorted names into a single string
	return strings.Join(names, " ")
}

// List returns the property names as a sorted slice of strings.
func (s *NameSet) List() []string {
	if len(s.elements) == 0 {
		return []string{}
	}

	// Collect names into a slice
	names := slices.Collect(maps.Keys(s.elements))

	// Sort the names to ensure consistent ordering
	slices.Sort(names)

	return names
}

// Equal checks if two NameSets are equal.
func (s *NameSet) Equal(other NameSet) bool {
	return maps.Equal(s.elements, other.elements)
}

// Length returns the number of property names in the set.
func (s *NameSet) Length() int {
	return len(s.elements)
}

// IsEmpty checks if the NameSet is empty.
func (s *NameSet) IsEmpty() bool {
	return s.Length() == 0
}

// Clear removes every property name from the set.
func (s *NameSet) Clear() {
	s.elements = nil
}

// Clone creates a copy of the NameSet.
func (s *NameSet) Clone() NameSet {
	return NameSet{
		elements: maps.Clone(s.elements),
	}
}

// MarshalJSON marshals the NameSet as a JSON array of strings.
//
// Implements the json.Marshaler interface.
func (s NameSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON unmarshals a JSON array of strings into the NameSet.
//
// Implements the json.Unmarshaler interface.
func (s *NameSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}

	// Initialize the NameSet with the unmarshaled names
	*s = NewNameSet(names...)

	return nil
}
