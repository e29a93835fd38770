package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entitykit/entitykit/store"
)

// NewCommand creates a new snapshot command with all subcommands.
//
// Usage:
//
//	rootCmd.AddCommand(snapshot.NewCommand(snapshot.Config{
//	    Logger: lggr,
//	}))
func NewCommand(cfg Config) *cobra.Command {
	// Apply defaults for optional dependencies
	cfg.deps()

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Snapshot diagnostics commands",
	}

	// Add subcommands
	cmd.AddCommand(newInspectCmd(cfg))
	cmd.AddCommand(newFilterCmd(cfg))

	return cmd
}

// newInspectCmd renders every snapshot in a dump file as a table.
func newInspectCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Render the snapshots in a dump file as tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := cfg.Deps.DumpLoader(args[0])
			if err != nil {
				return err
			}

			cfg.Logger.Debugw("Loaded snapshot dump", "path", args[0], "snapshots", len(snaps))

			for _, snap := range snaps {
				if err := renderSnapshot(cmd.OutOrStdout(), snap); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

// newFilterCmd applies store filters to a dump file and prints the matches.
func newFilterCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter <file>",
		Short: "Apply store filters to a snapshot dump and print the matches as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := filtersFromFlags(cmd.Flags())
			if err != nil {
				return err
			}

			snaps, err := cfg.Deps.DumpLoader(args[0])
			if err != nil {
				return err
			}

			// Replay the dump into a memory store so the command filters
			// exactly the way a live store would.
			ms := store.NewMemorySnapshotStore()
			ms.Records = snaps

			matches, err := ms.Filter(cmd.Context(), filters...)
			if err != nil {
				return err
			}

			cfg.Logger.Debugw("Filtered snapshot dump",
				"path", args[0], "total", len(snaps), "matches", len(matches))

			out, err := json.MarshalIndent(matches, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode matches: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			return nil
		},
	}

	addFilterFlags(cmd.Flags())

	return cmd
}
