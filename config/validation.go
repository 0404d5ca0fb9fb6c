package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/grovetools/multiworld/errors"
	"github.com/grovetools/multiworld/pkg/paths"
	"github.com/grovetools/multiworld/util/pathutil"
)

// ExpandPaths makes every configured path absolute, expanding a leading ~.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{
		&c.Toolchain.Path,
		&c.Paths.DataDir,
		&c.Paths.Uploads,
		&c.Paths.Games,
		&c.Paths.Patches,
		&c.Paths.Whitelist,
		&c.Paths.SessionLog,
		&c.Daemon.Socket,
		&c.Daemon.PidFile,
	} {
		expanded, err := pathutil.Expand(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}

	if c.Toolchain.Generator == "" {
		c.Toolchain.Generator = "ArchipelagoGenerate"
	}
	if c.Toolchain.Server == "" {
		c.Toolchain.Server = "ArchipelagoServer"
	}
	if c.Toolchain.GenerationTimeout == 0 {
		c.Toolchain.GenerationTimeout = Duration(10 * time.Minute)
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 38281
	}
	if c.Server.StartupGrace == 0 {
		c.Server.StartupGrace = Duration(time.Second)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(5 * time.Second)
	}

	if c.Paths.DataDir == "" {
		c.Paths.DataDir = paths.DataDir()
	}
	if c.Paths.Uploads == "" {
		c.Paths.Uploads = filepath.Join(c.Paths.DataDir, "upload")
	}
	if c.Paths.Games == "" {
		c.Paths.Games = filepath.Join(c.Paths.DataDir, "games")
	}
	if c.Paths.Patches == "" {
		c.Paths.Patches = filepath.Join(c.Paths.DataDir, "patches")
	}
	if c.Paths.Whitelist == "" {
		c.Paths.Whitelist = filepath.Join(c.Paths.DataDir, "whitelist.yml")
	}
	if c.Paths.SessionLog == "" {
		c.Paths.SessionLog = paths.SessionLogPath()
	}

	if len(c.Uploads.Patterns) == 0 {
		c.Uploads.Patterns = []string{"*.yaml", "*.yml"}
	}
	if c.Uploads.MaxSize == 0 {
		c.Uploads.MaxSize = 1 << 20
	}

	if c.Extract.Marker == "" {
		c.Extract.Marker = ".ap"
	}

	if c.Bridge.TransferPattern == "" {
		c.Bridge.TransferPattern = DefaultTransferPattern
	}
	if c.Bridge.Passthrough == "" {
		c.Bridge.Passthrough = PassthroughNone
	}
	if c.Bridge.ChatMarker == "" {
		c.Bridge.ChatMarker = ": "
	}

	if c.Daemon.Socket == "" {
		c.Daemon.Socket = paths.SocketPath()
	}
	if c.Daemon.PidFile == "" {
		c.Daemon.PidFile = paths.PidFilePath()
	}
	if c.Daemon.SnapshotInterval == 0 {
		c.Daemon.SnapshotInterval = Duration(2 * time.Second)
	}
	if c.Daemon.WhitelistDebounce == 0 {
		c.Daemon.WhitelistDebounce = Duration(100 * time.Millisecond)
	}
	if c.Daemon.EventBuffer == 0 {
		c.Daemon.EventBuffer = 200
	}
}

// Validate checks the semantic rules the schema cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port)).
			WithDetail("port", c.Server.Port)
	}

	if err := ValidateTransferPattern(c.Bridge.TransferPattern); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid bridge.transfer_pattern").
			WithDetail("pattern", c.Bridge.TransferPattern)
	}

	switch c.Bridge.Passthrough {
	case PassthroughNone, PassthroughAll, PassthroughChat:
	default:
		return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("bridge.passthrough must be one of none, all or chat, got %q", c.Bridge.Passthrough))
	}

	for _, pattern := range c.Uploads.Patterns {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigValidation, fmt.Sprintf("invalid uploads pattern %q", pattern))
		}
	}

	if c.Extract.Marker == "" {
		return errors.New(errors.ErrCodeConfigValidation, "extract.marker cannot be empty")
	}

	roots := map[string]string{
		"paths.uploads": c.Paths.Uploads,
		"paths.games":   c.Paths.Games,
		"paths.patches": c.Paths.Patches,
	}
	seen := make(map[string]string)
	for key, dir := range roots {
		clean, err := pathutil.NormalizeForLookup(dir)
		if err != nil {
			clean = filepath.Clean(dir)
		}
		if other, ok := seen[clean]; ok {
			return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("%s and %s must be different directories", other, key)).
				WithDetail("path", dir)
		}
		seen[clean] = key
	}

	return nil
}

// ValidateTransferPattern checks that pattern compiles and captures exactly
// actor, item and target.
func ValidateTransferPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	if re.NumSubexp() != 3 {
		return fmt.Errorf("pattern must have exactly 3 capture groups, got %d", re.NumSubexp())
	}
	return nil
}
