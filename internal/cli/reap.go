package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/slot-reservation/internal/service"
)

// NewReapCmd runs the hold expiry reaper on its own, for deployments that
// keep it out of the API processes.
func NewReapCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Return expired holds to available",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()
			reaper := a.reaper(a.arbiter(a.events(service.CacheInvalidator(a.listingCache()))))
			if once {
				n, err := reaper.SweepOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reclaimed=%d\n", n)
				return nil
			}
			if err := reaper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}
