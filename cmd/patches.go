package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/grovetools/multiworld/cli"
	"github.com/grovetools/multiworld/logging"
	"github.com/grovetools/multiworld/pkg/daemon"
	"github.com/spf13/cobra"
)

// NewPatchesCmd returns the patches command group.
func NewPatchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patches",
		Short: "List and download the patch files of the running session",
	}

	cmd.AddCommand(newPatchesListCmd())
	cmd.AddCommand(newPatchesDownloadCmd())

	return cmd
}

func newPatchesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List patch files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()
			patches, err := client.Patches(ctx)
			if err != nil {
				return err
			}

			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd, patches)
			}
			if len(patches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No patch files.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE")
			for _, p := range patches {
				fmt.Fprintf(w, "%s\t%s\n", p.Name, humanize.Bytes(uint64(p.Size)))
			}
			return w.Flush()
		},
	}
}

func newPatchesDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download [name...]",
		Short: "Download patch files into a directory",
		Long:  "Download the named patch files, or all of them when no name is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("output")
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			names := args
			if len(names) == 0 {
				ctx, cancel := requestContext(cmd)
				patches, err := client.Patches(ctx)
				cancel()
				if err != nil {
					return err
				}
				for _, p := range patches {
					names = append(names, p.Name)
				}
			}

			pretty := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
			for _, name := range names {
				n, err := downloadPatch(cmd, client, name, dir)
				if err != nil {
					return err
				}
				pretty.Success(fmt.Sprintf("%s (%s)", filepath.Join(dir, name), humanize.Bytes(uint64(n))))
			}
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", ".", "Directory to write patch files to")
	return cmd
}

// downloadPatch writes one patch file atomically into dir.
func downloadPatch(cmd *cobra.Command, client daemon.Client, name, dir string) (int64, error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	ctx, cancel := requestContext(cmd)
	defer cancel()
	n, err := client.DownloadPatch(ctx, name, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}
	return n, os.Rename(tmp.Name(), filepath.Join(dir, filepath.Base(name)))
}
