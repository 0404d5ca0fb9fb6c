package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/grovetools/multiworld/cli"
	"github.com/grovetools/multiworld/config"
	"github.com/grovetools/multiworld/errors"
	"github.com/grovetools/multiworld/logging"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd returns the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate multiworld.yml",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSchemaCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd, cfg)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			if path == "" {
				path = "built-in defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# Source: %s\n%s", path, data)
			return nil
		},
	}
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for multiworld.yml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return fmt.Errorf("failed to generate schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file against the schema and semantic rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cli.GetOptions(cmd).ConfigFile
			if len(args) == 1 {
				path = args[0]
			}
			path, err := cli.InitConfig(path)
			if err != nil {
				return err
			}
			if path == "" {
				return errors.ConfigNotFound("multiworld.yml")
			}

			pretty := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
			pretty.Path("File", path)

			if err := validateDocument(path); err != nil {
				pretty.Check(false, "Schema", "")
				return errors.Wrap(err, errors.ErrCodeConfigValidation, err.Error())
			}
			pretty.Check(true, "Schema", "")

			if _, err := config.Load(path); err != nil {
				pretty.Check(false, "Semantic rules", "")
				return err
			}
			pretty.Check(true, "Semantic rules", "")
			return nil
		},
	}
}

// validateDocument checks the raw file, before defaults, so unknown
// top-level keys are reported.
func validateDocument(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	doc := map[string]interface{}{}
	if strings.HasSuffix(path, ".toml") {
		err = toml.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config.ValidateDocument(doc)
}
