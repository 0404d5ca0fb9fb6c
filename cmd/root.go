// Package cmd holds the multiworld command tree.
package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/grovetools/multiworld/cli"
	"github.com/grovetools/multiworld/pkg/daemon"
	"github.com/grovetools/multiworld/version"
	"github.com/spf13/cobra"
)

// requestTimeout bounds a single API call from the CLI.
const requestTimeout = 30 * time.Second

// NewRootCmd builds the multiworld command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand("multiworld", "Host multiworld randomizer sessions")
	root.Long = `Host multiworld randomizer sessions.

A single daemon owns at most one session. Players are added to its roster,
upload their settings, and the host starts generation. The daemon then hosts
the game server and relays item transfers to the session event stream.

Examples:
# run the daemon in the foreground
multiworld daemon start
# open a session and add a second player
multiworld session create
multiworld session add 1234 Bob`
	root.SilenceErrors = true
	root.SilenceUsage = true
	cli.SetVersionTemplate(root, version.GetInfo())

	root.AddCommand(
		NewDaemonCmd(),
		NewSessionCmd(),
		NewPatchesCmd(),
		NewEventsCmd(),
		NewLogsCmd(),
		NewWatchCmd(),
		NewWhitelistCmd(),
		NewConfigCmd(),
		NewPathsCmd(),
		cli.NewVersionCommand(version.GetInfo()),
	)
	cli.ApplyStyledHelpRecursive(root)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		verbose, _ := root.PersistentFlags().GetBool("verbose")
		cli.NewErrorHandler(verbose).Handle(err)
		return 1
	}
	return 0
}

// newClient connects to the daemon named by the configuration, acting as
// the --user/--name identity.
func newClient(cmd *cobra.Command) (daemon.Client, error) {
	cfg, _, err := cli.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	opts := cli.GetOptions(cmd)
	return daemon.New(cfg.Daemon.Socket, daemon.Identity{ID: opts.User, Name: opts.Name})
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, requestTimeout)
}

// printJSON writes v indented to the command's output.
func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
