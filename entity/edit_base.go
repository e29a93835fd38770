package entity

import (
	"encoding/json"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/entitykit/entitykit/props"
)

// EditBase is the embeddable base for entities with a persistence
// lifecycle. It extends ValidateBase with a stable identity, modification
// tracking per property, and the new/deleted marks factories manage.
//
// Call Init with the outer entity before defining properties.
type EditBase struct {
	ValidateBase

	emu       sync.RWMutex
	id        string
	isNew     bool
	isDeleted bool
	modified  props.NameSet
}

var _ Editable = &EditBase{}

// Init wires the base to the outer entity and assigns a fresh identity.
func (eb *EditBase) Init(self Node, opts ...Option) {
	eb.ValidateBase.Init(self, opts...)
	eb.id = ksuid.New().String()
	eb.modified = props.NewNameSet()
}

// ID returns the entity's stable identity.
func (eb *EditBase) ID() string {
	eb.emu.RLock()
	defer eb.emu.RUnlock()

	return eb.id
}

// SetID replaces the entity's identity. Factories call it when a fetch
// handler maps stored identity onto a fresh instance.
func (eb *EditBase) SetID(id string) {
	eb.emu.Lock()
	defer eb.emu.Unlock()

	eb.id = id
}

// IsNew reports whether the entity has never been persisted.
func (eb *EditBase) IsNew() bool {
	eb.emu.RLock()
	defer eb.emu.RUnlock()

	return eb.isNew
}

// IsDeleted reports whether the entity is marked for deletion.
func (eb *EditBase) IsDeleted() bool {
	eb.emu.RLock()
	defer eb.emu.RUnlock()

	return eb.isDeleted
}

// IsChild reports whether the entity belongs to a parent and is persisted
// through its root.
func (eb *EditBase) IsChild() bool {
	return eb.Parent() != nil
}

// IsSelfModified reports whether the entity itself has unsaved changes,
// ignoring children. New and deleted entities always count as modified.
func (eb *EditBase) IsSelfModified() bool {
	eb.emu.RLock()
	defer eb.emu.RUnlock()

	return eb.selfModifiedLocked()
}

func (eb *EditBase) selfModifiedLocked() bool {
	return eb.isNew || eb.isDeleted || !eb.modified.IsEmpty()
}

// IsModified reports whether the entity or any child has unsaved changes.
func (eb *EditBase) IsModified() bool {
	if eb.IsSelfModified() {
		return true
	}
	for _, n := range eb.childNodes() {
		if m, ok := n.(modifiable); ok && m.IsModified() {
			return true
		}
	}

	return false
}

// ModifiedProperties returns the names of the properties changed since the
// entity was last marked unmodified.
func (eb *EditBase) ModifiedProperties() props.NameSet {
	eb.emu.RLock()
	defer eb.emu.RUnlock()

	return eb.modified.Clone()
}

// IsSavable reports whether the entity is a valid, modified, quiescent root
// that a factory will accept for save.
func (eb *EditBase) IsSavable() bool {
	return eb.IsValid() && eb.IsModified() && !eb.IsBusy() && eb.Parent() == nil
}

// markModified records a property write. Writes made while the entity is
// paused do not count, so loading stored state leaves the entity clean.
func (eb *EditBase) markModified(name string) {
	if eb.mgr.IsPaused() {
		return
	}

	eb.emu.Lock()
	was := eb.selfModifiedLocked()
	eb.modified.Add(name)
	eb.emu.Unlock()

	if !was {
		eb.metaChanged()
	}
}

// Delete marks the entity for deletion on the next save.
func (eb *EditBase) Delete() {
	eb.emu.Lock()
	eb.isDeleted = true
	eb.emu.Unlock()

	eb.metaChanged()
}

// UnDelete clears a pending deletion.
func (eb *EditBase) UnDelete() {
	eb.emu.Lock()
	eb.isDeleted = false
	eb.emu.Unlock()

	eb.metaChanged()
}

// MarkNew marks the entity as never persisted.
func (eb *EditBase) MarkNew() {
	eb.emu.Lock()
	eb.isNew = true
	eb.emu.Unlock()

	eb.metaChanged()
}

// MarkOld marks the entity and its children as persisted.
func (eb *EditBase) MarkOld() {
	eb.emu.Lock()
	eb.isNew = false
	eb.emu.Unlock()

	for _, n := range eb.childNodes() {
		if m, ok := n.(marker); ok {
			m.MarkOld()
		}
	}

	eb.metaChanged()
}

// MarkUnmodified clears modification tracking on the entity and its
// children.
func (eb *EditBase) MarkUnmodified() {
	eb.emu.Lock()
	eb.modified.Clear()
	eb.emu.Unlock()

	for _, n := range eb.childNodes() {
		if m, ok := n.(marker); ok {
			m.MarkUnmodified()
		}
	}

	eb.metaChanged()
}

type editMeta struct {
	ID        string        `json:"id"`
	IsNew     bool          `json:"isNew"`
	IsDeleted bool          `json:"isDeleted"`
	Modified  props.NameSet `json:"modified"`
}

// MarshalJSON marshals the entity's properties and lifecycle meta so the
// entity can cross a process boundary without losing its dirty state.
//
// Implements the json.Marshaler interface.
func (eb *EditBase) MarshalJSON() ([]byte, error) {
	eb.emu.RLock()
	meta := editMeta{
		ID:        eb.id,
		IsNew:     eb.isNew,
		IsDeleted: eb.isDeleted,
		Modified:  eb.modified.Clone(),
	}
	eb.emu.RUnlock()

	return json.Marshal(struct {
		Properties *props.Bag `json:"properties"`
		Meta       editMeta   `json:"meta"`
	}{Properties: eb.bag, Meta: meta})
}

// UnmarshalJSON restores properties and lifecycle meta without scheduling
// rules or tracking modifications.
//
// Implements the json.Unmarshaler interface.
func (eb *EditBase) UnmarshalJSON(data []byte) error {
	var payload struct {
		Properties json.RawMessage `json:"properties"`
		Meta       *editMeta       `json:"meta"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	if len(payload.Properties) > 0 {
		if err := eb.bag.UnmarshalJSON(payload.Properties); err != nil {
			return err
		}
		if err := eb.adoptChildren(); err != nil {
			return err
		}
	}

	if payload.Meta != nil {
		eb.emu.Lock()
		eb.id = payload.Meta.ID
		eb.isNew = payload.Meta.IsNew
		eb.isDeleted = payload.Meta.IsDeleted
		eb.modified = payload.Meta.Modified.Clone()
		eb.emu.Unlock()
	}

	return nil
}
