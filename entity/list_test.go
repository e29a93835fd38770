package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entitykit/entitykit/pkg/logger"
	"github.com/entitykit/entitykit/props"
	"github.com/entitykit/entitykit/rules"
)

type board struct {
	EditBase

	Name  props.Ref[string]
	Tasks props.Ref[*List[*task]]
}

func newBoard(tb testing.TB) *board {
	tb.Helper()

	b := &board{}
	b.Init(b, WithLogger(logger.Test(tb)))
	b.Name = Define(b, "Name", "")
	b.Tasks = Define(b, "Tasks", NewList[*task](func() *task { return buildTask() }))

	return b
}

func Test_List_Add(t *testing.T) {
	t.Parallel()

	b := newBoard(t)
	list := b.Tasks.Get()

	assert.Same(t, b, list.Parent())
	assert.Same(t, b, list.Root())

	tk := newTask(t)
	require.NoError(t, list.Add(tk))

	assert.Equal(t, 1, list.Len())
	assert.Same(t, tk, list.At(0))
	assert.Same(t, list, tk.Parent())
	assert.Same(t, b, tk.Root())
	assert.True(t, tk.IsChild())

	t.Run("rejects an already parented item", func(t *testing.T) {
		t.Parallel()

		other := newBoard(t)
		require.ErrorIs(t, other.Tasks.Get().Add(tk), ErrAlreadyParented)
	})
}

func Test_List_Insert(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	list := NewList[*task](nil)

	first, second := newTask(t), newTask(t)
	require.NoError(t, first.Title.Set(ctx, "first"))
	require.NoError(t, second.Title.Set(ctx, "second"))

	require.NoError(t, list.Add(second))
	require.NoError(t, list.Insert(0, first))

	require.Equal(t, 2, list.Len())
	assert.Equal(t, "first", list.At(0).Title.Get())
	assert.Equal(t, "second", list.At(1).Title.Get())
}

func Test_List_All(t *testing.T) {
	t.Parallel()

	list := NewList[*task](nil)
	tk1, tk2 := newTask(t), newTask(t)
	require.NoError(t, list.Add(tk1))
	require.NoError(t, list.Add(tk2))

	var seen []string
	for _, tk := range list.All() {
		seen = append(seen, tk.ID())
	}

	assert.Equal(t, []string{tk1.ID(), tk2.ID()}, seen)
}

func Test_List_Remove(t *testing.T) {
	t.Parallel()

	t.Run("an unsaved item is released", func(t *testing.T) {
		t.Parallel()

		list := NewList[*task](nil)
		tk := newTask(t)
		tk.MarkNew()
		require.NoError(t, list.Add(tk))

		removed := list.RemoveAt(0)

		assert.Same(t, tk, removed)
		assert.Zero(t, list.Len())
		assert.Empty(t, list.Deleted())
		assert.Nil(t, tk.Parent())
		assert.False(t, tk.IsDeleted())
		assert.False(t, list.IsModified())
	})

	t.Run("a persisted item awaits deletion", func(t *testing.T) {
		t.Parallel()

		list := NewList[*task](nil)
		tk := newTask(t)
		require.NoError(t, list.Add(tk))

		list.RemoveAt(0)

		assert.Zero(t, list.Len())
		require.Len(t, list.Deleted(), 1)
		assert.Same(t, tk, list.Deleted()[0])
		assert.True(t, tk.IsDeleted())
		assert.Same(t, list, tk.Parent(), "a pending delete stays in the tree")
		assert.True(t, list.IsModified())
	})

	t.Run("remove by identity", func(t *testing.T) {
		t.Parallel()

		list := NewList[*task](nil)
		kept, dropped := newTask(t), newTask(t)
		require.NoError(t, list.Add(kept))
		require.NoError(t, list.Add(dropped))

		assert.True(t, list.Remove(dropped))
		assert.Equal(t, 1, list.Len())
		assert.Same(t, kept, list.At(0))

		assert.False(t, list.Remove(newTask(t)))
	})
}

func Test_List_Rollups(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	b := newBoard(t)
	list := b.Tasks.Get()
	tk := newTask(t)
	require.NoError(t, list.Add(tk))
	b.MarkUnmodified()

	assert.True(t, list.IsSelfValid())
	assert.False(t, list.IsSelfBusy())
	assert.Nil(t, list.Messages())

	require.NoError(t, list.RunAllRules(ctx))
	assert.False(t, list.IsValid(), "an invalid item makes the list invalid")
	assert.False(t, b.IsValid())
	assert.True(t, b.IsSelfValid())

	require.NoError(t, tk.Title.Set(ctx, "triage bugs"))
	assert.True(t, list.IsValid())
	assert.True(t, b.IsValid())

	assert.True(t, list.IsModified(), "a modified item makes the list modified")
	assert.True(t, b.IsModified())
	assert.False(t, b.IsSelfModified())
}

func Test_List_MarkOldAndUnmodified(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	b := newBoard(t)
	list := b.Tasks.Get()

	kept := newTask(t)
	kept.MarkNew()
	require.NoError(t, kept.Title.Set(ctx, "keep me"))
	require.NoError(t, list.Add(kept))

	gone := newTask(t)
	require.NoError(t, list.Add(gone))
	list.Remove(gone)
	require.Len(t, list.Deleted(), 1)

	b.MarkOld()
	assert.False(t, kept.IsNew(), "marks cascade through the list")

	b.MarkUnmodified()
	assert.False(t, kept.IsSelfModified())
	assert.Empty(t, list.Deleted(), "a save settles pending deletes")
	assert.Nil(t, gone.Parent())
	assert.False(t, list.IsModified())
	assert.False(t, b.IsModified())
}

func Test_List_MetaChanged(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	b := newBoard(t)
	list := b.Tasks.Get()
	b.MarkUnmodified()

	var events int
	b.OnMetaChanged(func() { events++ })

	tk := newTask(t)
	require.NoError(t, list.Add(tk))
	assert.Equal(t, 1, events, "adding an item reports a meta change")

	// A write on the item reports the modification flip and the rule run.
	require.NoError(t, tk.Title.Set(ctx, "sketch the design"))
	assert.Equal(t, 3, events)
}

func Test_List_MarshalJSON(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	b := newBoard(t)
	list := b.Tasks.Get()

	first, second := newTask(t), newTask(t)
	require.NoError(t, first.Title.Set(ctx, "design"))
	require.NoError(t, second.Title.Set(ctx, "build"))
	require.NoError(t, list.Add(first))
	require.NoError(t, list.Add(second))

	gone := newTask(t)
	require.NoError(t, list.Add(gone))
	list.Remove(gone)

	data, err := json.Marshal(b)
	require.NoError(t, err)

	restored := newBoard(t)
	require.NoError(t, json.Unmarshal(data, restored))

	rlist := restored.Tasks.Get()
	require.Equal(t, 2, rlist.Len())
	assert.Equal(t, first.ID(), rlist.At(0).ID())
	assert.Equal(t, "design", rlist.At(0).Title.Get())
	assert.Equal(t, second.ID(), rlist.At(1).ID())
	assert.True(t, rlist.At(0).IsSelfModified(), "item dirty state survives the round trip")
	assert.Same(t, rlist, rlist.At(0).Parent())

	require.Len(t, rlist.Deleted(), 1)
	assert.Equal(t, gone.ID(), rlist.Deleted()[0].ID())
	assert.True(t, rlist.Deleted()[0].IsDeleted())
}

func Test_List_UnmarshalJSON_RequiresConstructor(t *testing.T) {
	t.Parallel()

	list := NewList[*task](nil)

	err := json.Unmarshal([]byte(`{"items":[]}`), list)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constructor")
}

func Test_List_PauseAllActions(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	b := newBoard(t)
	list := b.Tasks.Get()
	tk := newTask(t)
	require.NoError(t, list.Add(tk))

	resume := b.PauseAllActions(rules.DiscardTriggers)
	require.NoError(t, tk.Title.Set(ctx, "loaded"))
	require.NoError(t, resume(ctx))

	assert.False(t, tk.IsSelfModified(), "the pause covers items through the list")
	assert.Empty(t, tk.Messages())
}
