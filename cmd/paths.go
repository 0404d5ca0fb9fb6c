package cmd

import (
	"github.com/grovetools/multiworld/cli"
	"github.com/grovetools/multiworld/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput lists the directories and files multiworld uses.
type PathsOutput struct {
	ConfigDir  string `json:"config_dir"`
	DataDir    string `json:"data_dir"`
	StateDir   string `json:"state_dir"`
	Socket     string `json:"socket"`
	PidFile    string `json:"pid_file"`
	LogDir     string `json:"log_dir"`
	Uploads    string `json:"uploads"`
	Games      string `json:"games"`
	Patches    string `json:"patches"`
	Whitelist  string `json:"whitelist"`
	SessionLog string `json:"session_log"`
}

// NewPathsCmd returns the paths command.
func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the paths used by multiworld as JSON",
		Long: `Print the paths used by multiworld as JSON.

The base directories follow the XDG Base Directory Specification, or
$MULTIWORLD_HOME when set. File locations reflect the loaded configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			return printJSON(cmd, PathsOutput{
				ConfigDir:  paths.ConfigDir(),
				DataDir:    cfg.Paths.DataDir,
				StateDir:   paths.StateDir(),
				Socket:     cfg.Daemon.Socket,
				PidFile:    cfg.Daemon.PidFile,
				LogDir:     paths.LogDir(),
				Uploads:    cfg.Paths.Uploads,
				Games:      cfg.Paths.Games,
				Patches:    cfg.Paths.Patches,
				Whitelist:  cfg.Paths.Whitelist,
				SessionLog: cfg.Paths.SessionLog,
			})
		},
	}
}
