// Package cli holds the cobra command tree of the slot reservation service.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRoot builds the root command with every subcommand attached.
func NewRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "slotd",
		Short:         "Slot reservation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewGenerateCmd())
	cmd.AddCommand(NewReapCmd())
	cmd.AddCommand(NewConsumeCmd())
	cmd.AddCommand(NewTokenCmd())
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
