package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entitykit/entitykit/pkg/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	lggr := logger.Nop()
	cmds := New(lggr)

	require.NotNil(t, cmds)
	assert.Equal(t, lggr, cmds.lggr)
}

func TestCommands_Snapshot(t *testing.T) {
	t.Parallel()

	lggr := logger.Nop()
	cmds := New(lggr)

	cmd := cmds.Snapshot()

	require.NotNil(t, cmd)
	assert.Equal(t, "snapshot", cmd.Use)
	assert.Equal(t, "Snapshot diagnostics commands", cmd.Short)

	// Verify inspect and filter subcommands exist
	subs := cmd.Commands()
	require.Len(t, subs, 2)
	assert.Equal(t, "filter <file>", subs[0].Use)
	assert.Equal(t, "inspect <file>", subs[1].Use)
}

func TestCommands_MultipleCommands_ShareLogger(t *testing.T) {
	t.Parallel()

	// This test verifies the key benefit: logger is set once and shared
	lggr := logger.Nop()
	cmds := New(lggr)

	// Create multiple commands - logger is NOT repeated
	snapCmd1 := cmds.Snapshot()
	snapCmd2 := cmds.Snapshot()

	// Both commands should work
	require.NotNil(t, snapCmd1)
	require.NotNil(t, snapCmd2)
}
