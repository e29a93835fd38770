// Package commands provides modular CLI command packages for host CLIs.
//
// There are two ways to use commands from this package:
//
// 1. Via the Commands factory (recommended for most use cases):
//
//	commands := commands.New(lggr)
//	app.AddCommand(
//	    commands.Snapshot(),
//	)
//
// 2. Via direct package imports (for advanced DI/testing):
//
//	import "github.com/entitykit/entitykit/pkg/commands/snapshot"
//
//	app.AddCommand(snapshot.NewCommand(snapshot.Config{
//	    Logger: lggr,
//	    Deps:   &snapshot.Deps{...},  // inject mocks for testing
//	}))
package commands

import (
	"github.com/spf13/cobra"

	"github.com/entitykit/entitykit/pkg/commands/snapshot"
	"github.com/entitykit/entitykit/pkg/logger"
)

// Commands provides a factory for creating CLI commands with shared configuration.
// This allows setting the logger once and reusing it across all commands.
type Commands struct {
	lggr logger.Logger
}

// New creates a new Commands factory with the given logger.
// The logger will be shared across all commands created by this factory.
func New(lggr logger.Logger) *Commands {
	return &Commands{lggr: lggr}
}

// Snapshot creates the snapshot command group for inspecting and filtering
// snapshot dumps.
//
// Usage:
//
//	cmds := commands.New(lggr)
//	rootCmd.AddCommand(cmds.Snapshot())
func (c *Commands) Snapshot() *cobra.Command {
	return snapshot.NewCommand(snapshot.Config{
		Logger: c.lggr,
	})
}
