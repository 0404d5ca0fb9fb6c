package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides are deployment settings that may be supplied through the
// environment instead of the config file.
type envOverrides struct {
	ToolchainPath string   `env:"MULTIWORLD_TOOLCHAIN_PATH"`
	ServerPort    int      `env:"MULTIWORLD_SERVER_PORT"`
	PublicAddress string   `env:"MULTIWORLD_PUBLIC_ADDRESS"`
	DataDir       string   `env:"MULTIWORLD_DATA_DIR"`
	Owners        []string `env:"MULTIWORLD_OWNERS" envSeparator:","`
	Passthrough   string   `env:"MULTIWORLD_BRIDGE_PASSTHROUGH"`
}

// ApplyEnv overlays MULTIWORLD_* environment variables on c.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.ToolchainPath != "" {
		c.Toolchain.Path = o.ToolchainPath
	}
	if o.ServerPort != 0 {
		c.Server.Port = o.ServerPort
	}
	if o.PublicAddress != "" {
		c.Server.PublicAddress = o.PublicAddress
	}
	if o.DataDir != "" {
		c.Paths.DataDir = o.DataDir
	}
	if len(o.Owners) > 0 {
		c.Access.Owners = append(c.Access.Owners, o.Owners...)
	}
	if o.Passthrough != "" {
		c.Bridge.Passthrough = o.Passthrough
	}
	return nil
}
