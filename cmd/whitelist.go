package cmd

import (
	"github.com/grovetools/multiworld/cli"
	"github.com/grovetools/multiworld/logging"
	"github.com/spf13/cobra"
)

// NewWhitelistCmd returns the whitelist command group.
func NewWhitelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage who may create sessions",
	}
	cmd.AddCommand(newWhitelistAddCmd())
	return cmd
}

func newWhitelistAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <user-id>",
		Short: "Allow a user to create sessions (owners only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()
			resp, err := client.Whitelist(ctx, args[0])
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd, resp)
			}
			logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout()).Success(resp.Message)
			return nil
		},
	}
}
