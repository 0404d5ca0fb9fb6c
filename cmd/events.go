package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/grovetools/multiworld/cli"
	"github.com/grovetools/multiworld/internal/bridge"
	"github.com/grovetools/multiworld/pkg/models"
	"github.com/spf13/cobra"
)

// NewEventsCmd returns the events command, which follows the daemon's
// event stream.
func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow session events from the daemon",
		Long: `Follow session events. Retained events are replayed first; --since
skips those up to and including the given sequence number.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			useWS, _ := cmd.Flags().GetBool("ws")
			since, _ := cmd.Flags().GetUint64("since")
			jsonOutput := cli.GetOptions(cmd).JSONOutput

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stream := client.StreamEvents
			if useWS {
				stream = client.StreamWebSocket
			}
			updates, err := stream(ctx, since)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for u := range updates {
				if jsonOutput {
					data, err := json.Marshal(u)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(data))
					continue
				}
				if line := formatUpdate(u); line != "" {
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("ws", false, "Use the websocket stream instead of Server-Sent Events")
	cmd.Flags().Uint64("since", 0, "Skip retained events up to this sequence number")
	return cmd
}

// formatUpdate renders a stream update as one line of text. Session
// snapshots are summarized by state.
func formatUpdate(u models.StreamUpdate) string {
	switch {
	case u.Event != nil:
		return fmt.Sprintf("#%d %s", u.Event.Seq, strings.TrimSuffix(bridge.FormatLogLine(*u.Event), "\n"))
	case u.Session != nil:
		s := u.Session
		line := fmt.Sprintf("session %s", s.State)
		if s.State.Active() {
			line += fmt.Sprintf(" (%d/%d ready)", len(s.Participants)-len(s.Missing()), len(s.Participants))
		}
		return line
	case u.UpdateType == "whitelist":
		return fmt.Sprintf("whitelist %d users", u.Whitelist)
	}
	return ""
}
