package cmd

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/grovetools/multiworld/cli"
	"github.com/grovetools/multiworld/tui/components/logviewer"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// NewLogsCmd returns the logs command, which prints the session log.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the session log",
		Long: `Print the session log: every status announcement, transfer and
forwarded server line of every session.

Examples:
multiworld logs -n 20
multiworld logs -f`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			follow, _ := cmd.Flags().GetBool("follow")
			lines, _ := cmd.Flags().GetInt("lines")
			raw, _ := cmd.Flags().GetBool("raw")

			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			path := cfg.Paths.SessionLog

			format := logviewer.FormatLine
			if raw {
				format = func(line string) string { return line }
			}

			offset, err := printLastLines(cmd.OutOrStdout(), path, lines, format)
			if err != nil {
				return err
			}
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return followLog(ctx.Done(), cmd.OutOrStdout(), path, offset, format)
		},
	}
	cmd.Flags().BoolP("follow", "f", false, "Follow new lines as they are written")
	cmd.Flags().IntP("lines", "n", -1, "Number of lines to show from the end (default: all)")
	cmd.Flags().Bool("raw", false, "Print lines without styling")
	return cmd
}

// printLastLines prints the last n lines of path (all when n < 0) and
// returns the offset reading stopped at. A missing file prints nothing.
func printLastLines(w io.Writer, path string, n int, format func(string) string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read session log: %w", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(data) == 0 {
		lines = nil
	}
	if n >= 0 && n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Fprintln(w, format(line))
	}
	return int64(len(data)), nil
}

// followLog prints lines appended to path after offset until done closes.
func followLog(done <-chan struct{}, w io.Writer, path string, offset int64, format func(string) string) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		Logger:    stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return fmt.Errorf("failed to follow session log: %w", err)
	}
	defer t.Cleanup()

	for {
		select {
		case <-done:
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				continue
			}
			fmt.Fprintln(w, format(line.Text))
		}
	}
}
