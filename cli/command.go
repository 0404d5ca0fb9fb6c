package cli

import (
	"os"

	"github.com/grovetools/multiworld/config"
	"github.com/grovetools/multiworld/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CommandOptions holds the persistent options shared by every command.
type CommandOptions struct {
	ConfigFile string
	Verbose    bool
	JSONOutput bool
	User       string
	Name       string
}

// NewStandardCommand creates a command carrying the standard multiworld flags.
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to multiworld.yml config file")
	cmd.PersistentFlags().String("user", os.Getenv("MULTIWORLD_USER"), "Stable user ID to act as (default $MULTIWORLD_USER or $USER)")
	cmd.PersistentFlags().String("name", os.Getenv("MULTIWORLD_NAME"), "Display name to act as (default $MULTIWORLD_NAME or the user ID)")

	SetStyledHelp(cmd)

	return cmd
}

// GetLogger returns the CLI logger adjusted for --verbose and --json.
func GetLogger(cmd *cobra.Command) *logrus.Entry {
	entry := logging.NewLogger("cli")

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		entry.Logger.SetLevel(logrus.DebugLevel)
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		entry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return entry
}

// GetOptions extracts the standard options from a command.
func GetOptions(cmd *cobra.Command) CommandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	user, _ := cmd.Flags().GetString("user")
	name, _ := cmd.Flags().GetString("name")

	if user == "" {
		user = os.Getenv("USER")
	}
	if name == "" {
		name = user
	}

	return CommandOptions{
		ConfigFile: configFile,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
		User:       user,
		Name:       name,
	}
}

// InitConfig resolves the configuration file path. An empty result means no
// file was found and the defaults apply.
func InitConfig(configFile string) (string, error) {
	if configFile != "" {
		return configFile, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	found, err := config.FindConfigFile(cwd)
	if err != nil {
		return "", nil
	}
	return found, nil
}

// LoadConfig loads the configuration named by --config, or the discovered
// file, or the defaults. The resolved path is returned alongside.
func LoadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := InitConfig(GetOptions(cmd).ConfigFile)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		cfg, err := config.Default()
		return cfg, "", err
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}
