package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/slot-reservation/internal/config"
	"github.com/iliyamo/slot-reservation/internal/utils"
)

// NewTokenCmd prints an access token signed with JWT_SECRET for local
// testing against the API.
func NewTokenCmd() *cobra.Command {
	var sub, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			role = strings.ToUpper(role)
			if role != utils.RoleCustomer && role != utils.RoleProvider {
				return fmt.Errorf("--role must be %s or %s", utils.RoleCustomer, utils.RoleProvider)
			}
			tok, err := utils.NewAccessToken(config.LoadJWTSecret(), sub, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "subject (requester or provider id)")
	cmd.Flags().StringVar(&role, "role", utils.RoleCustomer, "CUSTOMER or PROVIDER")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
