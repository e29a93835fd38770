package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/suzuki-shunsuke/go-convmap/convmap"
)

// SnapshotKey is an interface that represents the primary key for a
// Snapshot record. It is used to uniquely identify a record in the store.
type SnapshotKey interface {
	Comparable[SnapshotKey]
	fmt.Stringer

	// Kind returns the entity kind the snapshot belongs to.
	Kind() string
	// ID returns the identity of the entity within its kind.
	ID() string
}

// snapshotKey implements the SnapshotKey interface.
type snapshotKey struct {
	kind string
	id   string
}

var _ SnapshotKey = snapshotKey{}

// NewSnapshotKey creates a new SnapshotKey instance.
func NewSnapshotKey(kind string, id string) SnapshotKey {
	return snapshotKey{kind: kind, id: id}
}

func (k snapshotKey) Kind() string { return k.kind }

func (k snapshotKey) ID() string { return k.id }

// Equals returns true if the other key is a snapshotKey with the same kind
// and id.
func (k snapshotKey) Equals(other SnapshotKey) bool {
	o, ok := other.(snapshotKey)

	return ok && k.kind == o.kind && k.id == o.id
}

// String returns a string representation of the key.
func (k snapshotKey) String() string {
	return fmt.Sprintf("%s/%s", k.kind, k.id)
}

// Meta carries the lifecycle flags of the aggregate a snapshot was taken
// from. The flags are duplicated outside the serialized state so stores can
// filter on them without decoding it.
type Meta struct {
	IsNew     bool `json:"isNew,omitempty"`
	IsDeleted bool `json:"isDeleted,omitempty"`
}

// Snapshot is the serialized state of an aggregate root together with the
// version and timestamp stamped by the store on each write. Annotations
// carries free form metadata alongside the state, such as the actor or the
// reason for the write.
type Snapshot struct {
	Kind        string          `json:"kind"`
	ID          string          `json:"id"`
	Version     int64           `json:"version"`
	State       json.RawMessage `json:"state"`
	Meta        Meta            `json:"meta"`
	Annotations any             `json:"annotations,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// NewSnapshot builds an unversioned snapshot for the given entity by
// serializing state to JSON. The store stamps Version and UpdatedAt when
// the snapshot is written.
func NewSnapshot(kind string, id string, state any) (Snapshot, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to serialize state for %s/%s: %w", kind, id, err)
	}

	return Snapshot{Kind: kind, ID: id, State: raw}, nil
}

// Clone creates a copy of the Snapshot record.
func (s Snapshot) Clone() (Snapshot, error) {
	annotations, err := clone(s.Annotations)
	if err != nil {
		return Snapshot{}, err
	}

	var state json.RawMessage
	if s.State != nil {
		state = make(json.RawMessage, len(s.State))
		copy(state, s.State)
	}

	return Snapshot{
		Kind:        s.Kind,
		ID:          s.ID,
		Version:     s.Version,
		State:       state,
		Meta:        s.Meta,
		Annotations: annotations,
		UpdatedAt:   s.UpdatedAt,
	}, nil
}

// Key returns the SnapshotKey for the record.
func (s Snapshot) Key() SnapshotKey {
	return NewSnapshotKey(s.Kind, s.ID)
}

// UnpackState deserializes the snapshot's state into target, which must be
// a non nil pointer.
func (s Snapshot) UnpackState(target any) error {
	if len(s.State) == 0 {
		return fmt.Errorf("snapshot %s has no state", s.Key())
	}

	if err := json.Unmarshal(s.State, target); err != nil {
		return fmt.Errorf("failed to deserialize state for %s: %w", s.Key(), err)
	}

	return nil
}

// clone creates a deep copy of the given data using JSON serialization.
// Numbers survive the round trip as json.Number to avoid float precision
// loss.
func clone[T any](data T) (T, error) {
	var result T

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return result, err
	}

	decoder := json.NewDecoder(bytes.NewReader(dataBytes))
	decoder.UseNumber()
	if err := decoder.Decode(&result); err != nil {
		return result, err
	}

	return result, nil
}

// As converts a value of any type to the specified target type T. It is
// used to convert snapshot annotations, which are stored as any, into a
// concrete caller defined type.
func As[T any](value any) (T, error) {
	var result T

	// Convert the value first to make sure it is JSON compatible.
	converted, err := convmap.Convert(value, nil)
	if err != nil {
		return result, fmt.Errorf("failed to convert value: %w", err)
	}

	jsonBytes, err := json.Marshal(converted)
	if err != nil {
		return result, fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal value into %T: %w", result, err)
	}

	return result, nil
}
