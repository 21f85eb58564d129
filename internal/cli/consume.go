package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/iliyamo/slot-reservation/internal/queue"
)

// NewConsumeCmd runs the slot event audit consumer.
func NewConsumeCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Append slot events from RabbitMQ to the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()
			c := queue.AuditConsumer{URL: a.cfg.RabbitMQURL, Dir: dir, Log: a.log.Named("audit")}
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "logs", "directory of the audit log")
	return cmd
}
