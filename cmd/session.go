package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grovetools/multiworld/cli"
	"github.com/grovetools/multiworld/errors"
	"github.com/grovetools/multiworld/logging"
	"github.com/grovetools/multiworld/pkg/models"
	"github.com/spf13/cobra"
)

// NewSessionCmd returns the session command group.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, prepare, start and cancel the session",
	}

	cmd.AddCommand(newSessionStatusCmd())
	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionAddCmd())
	cmd.AddCommand(newSessionUploadCmd())
	cmd.AddCommand(newSessionStartCmd())
	cmd.AddCommand(newSessionCancelCmd())

	return cmd
}

// renderSession prints the roster with a readiness mark per slot.
func renderSession(w io.Writer, s *models.Session) {
	pretty := logging.NewPrettyLogger().WithWriter(w)
	if !s.State.Active() {
		pretty.InfoPretty("No session is active.")
		if s.LastError != "" {
			pretty.ErrorPretty("Last session ended with an error", fmt.Errorf("%s", s.LastError))
		}
		return
	}

	pretty.Field("State", s.State)
	pretty.Field("Host", s.HostName)
	if s.ServerAddress != "" {
		pretty.Field("Address", s.ServerAddress)
	}
	pretty.Blank()
	for _, p := range s.Participants {
		detail := fmt.Sprintf("(%s)", p.DisplayName)
		if p.DisplayName == p.Slot {
			detail = ""
		}
		pretty.Check(p.Ready, p.Slot, detail)
	}

	if s.State == models.StatePreparing && s.AllReady() {
		pretty.Blank()
		pretty.Success("All players ready! The host can now start the session.")
	}
	if len(s.Patches) > 0 {
		names := make([]string, len(s.Patches))
		for i, p := range s.Patches {
			names[i] = p.Name
		}
		pretty.Blank()
		pretty.Field("Patch files", strings.Join(names, ", "))
	}
}

// showSession prints s as JSON or as the rendered roster.
func showSession(cmd *cobra.Command, s *models.Session) error {
	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(cmd, s)
	}
	renderSession(cmd.OutOrStdout(), s)
	return nil
}

func newSessionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session roster and readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()
			s, err := client.Session(ctx)
			if err != nil {
				return err
			}
			return showSession(cmd, s)
		},
	}
}

func newSessionCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Open a new session hosted by you",
		Long: `Open a new session. You become the host and your display name is the
first slot. Leftover files from an earlier session are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()
			s, err := client.CreateSession(ctx)
			if err != nil {
				return err
			}
			return showSession(cmd, s)
		},
	}
}

func newSessionAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <user-id> <display-name>",
		Short: "Add a player to the roster (host only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, _ := cmd.Flags().GetString("slot")

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()
			s, err := client.AddParticipant(ctx, models.AddParticipantRequest{
				UserID:      args[0],
				DisplayName: args[1],
				Slot:        slot,
			})
			if err != nil {
				return err
			}
			return showSession(cmd, s)
		},
	}
	cmd.Flags().String("slot", "", "Slot name (default: the display name)")
	return cmd
}

func newSessionUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a player settings file",
		Long: `Upload a player settings file. The slot is read from the file's
top-level name field and must be on the roster.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInvalidInput, fmt.Sprintf("Could not open %s.", args[0]))
			}
			defer f.Close()

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()
			resp, err := client.Upload(ctx, filepath.Base(args[0]), f)
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

func newSessionStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Generate the game and host it (host only)",
		Long: `Generate the game from the uploaded settings and host the server.
Generation runs in the daemon; with --wait the command polls until the
session is running or has ended.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			release, _ := cmd.Flags().GetString("release")
			collect, _ := cmd.Flags().GetString("collect")
			remaining, _ := cmd.Flags().GetString("remaining")
			wait, _ := cmd.Flags().GetBool("wait")

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()
			resp, err := client.Start(ctx, models.StartOptions{
				Password:      password,
				ReleaseMode:   release,
				CollectMode:   collect,
				RemainingMode: remaining,
			})
			if err != nil {
				return err
			}

			pretty := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
			if !wait {
				pretty.InfoPretty(resp.Message)
				return nil
			}

			timeout, _ := cmd.Flags().GetDuration("timeout")
			s, err := waitForStart(cmd, timeout)
			if err != nil {
				return err
			}
			if s.State != models.StateRunning {
				message := s.LastError
				if message == "" {
					message = "The session ended before the server started."
				}
				return errors.New(errors.ErrCodeServerExited, message)
			}
			return showSession(cmd, s)
		},
	}
	cmd.Flags().String("password", "", "Server password")
	cmd.Flags().String("release", "", "Release mode passed to the server")
	cmd.Flags().String("collect", "", "Collect mode passed to the server")
	cmd.Flags().String("remaining", "", "Remaining mode passed to the server")
	cmd.Flags().Bool("wait", false, "Wait until the session is running or has ended")
	cmd.Flags().Duration("timeout", 15*time.Minute, "Upper bound for --wait")
	return cmd
}

// waitForStart polls the session until generation is over.
func waitForStart(cmd *cobra.Command, timeout time.Duration) (*models.Session, error) {
	client, err := newClient(cmd)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := requestContext(cmd)
		s, err := client.Session(ctx)
		cancel()
		if err != nil {
			return nil, err
		}
		if s.State != models.StateGenerating {
			return s, nil
		}
		if time.Now().After(deadline) {
			return nil, errors.New(errors.ErrCodeCommandTimeout, "The session is still generating.")
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func newSessionCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "End the session (host only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()
			resp, err := client.Cancel(ctx)
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
