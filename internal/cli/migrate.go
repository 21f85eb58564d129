package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// NewMigrateCmd applies the embedded SQL migrations.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			if a.db == nil {
				return errors.New("migrate requires STORE_DRIVER=mysql")
			}
			ctx, stop := signalContext()
			defer stop()
			if err := a.migrate(ctx); err != nil {
				return err
			}
			a.log.Info("database is up to date")
			return nil
		},
	}
}
