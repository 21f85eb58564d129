package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// NewGenerateCmd generates slots for one provider from its catalog working
// hours.
func NewGenerateCmd() *cobra.Command {
	var provider, serviceID, from, to string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate slots from a provider's working hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				return errors.New("--provider is required")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			start := model.DateOnly(a.clock.Now())
			if from != "" {
				if start, err = time.Parse(model.DateLayout, from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			end := start.AddDate(0, 0, a.cfg.GenerationHorizonDays-1)
			if to != "" {
				if end, err = time.Parse(model.DateLayout, to); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}
			var svc *string
			if serviceID != "" {
				svc = &serviceID
			}

			ctx, stop := signalContext()
			defer stop()
			report, err := a.generator().GenerateFromCatalog(ctx, provider, svc, start, end)
			if err != nil {
				return err
			}
			for _, d := range report.InvalidDays {
				a.log.Warn("day skipped", zap.Error(d))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "candidates=%d inserted=%d existing=%d invalid_days=%d\n",
				report.Candidates, report.Inserted, report.Existing, len(report.InvalidDays))
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider id")
	cmd.Flags().StringVar(&serviceID, "service", "", "optional service id attached to the slots")
	cmd.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD (default GENERATION_HORIZON_DAYS from --from)")
	return cmd
}
