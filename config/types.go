package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

//go:generate sh -c "cd .. && go run ./tools/schema-generator/"

// Config is the multiworld daemon configuration, read from multiworld.yml
// (or multiworld.toml).
type Config struct {
	Version   string          `yaml:"version" json:"version" jsonschema:"description=Configuration version (e.g. '1.0')"`
	Toolchain ToolchainConfig `yaml:"toolchain" json:"toolchain" jsonschema:"description=Location and invocation of the generator and server executables"`
	Server    ServerConfig    `yaml:"server" json:"server" jsonschema:"description=How the hosted game server is bound and supervised"`
	Paths     PathsConfig     `yaml:"paths" json:"paths" jsonschema:"description=Working roots and persisted files"`
	Uploads   UploadsConfig   `yaml:"uploads" json:"uploads" jsonschema:"description=Validation of participant uploads"`
	Extract   ExtractConfig   `yaml:"extract" json:"extract" jsonschema:"description=Patch file extraction from the generated bundle"`
	Bridge    BridgeConfig    `yaml:"bridge" json:"bridge" jsonschema:"description=Classification of server output lines"`
	Daemon    DaemonConfig    `yaml:"daemon" json:"daemon" jsonschema:"description=Daemon socket and background collectors"`
	Access    AccessConfig    `yaml:"access" json:"access" jsonschema:"description=Who may create sessions and edit the whitelist"`

	// Extensions captures all other top-level keys (e.g. logging).
	Extensions map[string]interface{} `yaml:",inline" json:"-" jsonschema:"-"`
}

// ToolchainConfig locates the external executables.
type ToolchainConfig struct {
	Path              string   `yaml:"path" json:"path" jsonschema:"description=Directory containing the generator and server executables"`
	Generator         string   `yaml:"generator" json:"generator" jsonschema:"description=Generator executable name or absolute path"`
	Server            string   `yaml:"server" json:"server" jsonschema:"description=Server executable name or absolute path"`
	GenerationTimeout Duration `yaml:"generation_timeout" json:"generation_timeout" jsonschema:"description=Upper bound for one generation run"`
}

// GeneratorPath returns the generator executable path.
func (t ToolchainConfig) GeneratorPath() string {
	return t.resolve(t.Generator)
}

// ServerPath returns the server executable path.
func (t ToolchainConfig) ServerPath() string {
	return t.resolve(t.Server)
}

func (t ToolchainConfig) resolve(name string) string {
	if filepath.IsAbs(name) || t.Path == "" {
		return name
	}
	return filepath.Join(t.Path, name)
}

// ServerConfig controls the hosted server process.
type ServerConfig struct {
	Host            string   `yaml:"host" json:"host" jsonschema:"description=Address the server binds to"`
	Port            int      `yaml:"port" json:"port" jsonschema:"description=Port the server listens on,minimum=1,maximum=65535"`
	PublicAddress   string   `yaml:"public_address" json:"public_address" jsonschema:"description=Address announced to players"`
	StartupGrace    Duration `yaml:"startup_grace" json:"startup_grace" jsonschema:"description=Delay before the liveness probe after launch"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" jsonschema:"description=Bounded wait for termination on teardown"`
}

// PathsConfig holds the working roots. All three roots are purged on reset.
type PathsConfig struct {
	DataDir    string `yaml:"data_dir" json:"data_dir" jsonschema:"description=Base directory for the working roots"`
	Uploads    string `yaml:"uploads" json:"uploads" jsonschema:"description=Participant upload directory"`
	Games      string `yaml:"games" json:"games" jsonschema:"description=Generator output directory"`
	Patches    string `yaml:"patches" json:"patches" jsonschema:"description=Extracted patch file directory"`
	Whitelist  string `yaml:"whitelist" json:"whitelist" jsonschema:"description=Persisted whitelist file"`
	SessionLog string `yaml:"session_log" json:"session_log" jsonschema:"description=Append-only log of session events"`
}

// UploadsConfig validates participant uploads.
type UploadsConfig struct {
	Patterns []string `yaml:"patterns" json:"patterns,omitempty" jsonschema:"description=Accepted upload filename patterns"`
	MaxSize  int64    `yaml:"max_size" json:"max_size" jsonschema:"description=Maximum upload size in bytes,minimum=0"`
}

// ExtractConfig controls patch extraction.
type ExtractConfig struct {
	Marker string `yaml:"marker" json:"marker" jsonschema:"description=Substring of the file extension identifying patch files"`
}

// Passthrough modes for lines that are not transfers.
const (
	PassthroughNone = "none"
	PassthroughAll  = "all"
	PassthroughChat = "chat"
)

// DefaultTransferPattern matches "Alice sent Sword to Bob." with an optional
// leading "(tag) " and trailing " (qualifier)".
const DefaultTransferPattern = `^(?:\(.+?\)\s)?(.+?)\ssent\s(.+?)\sto\s(.+?)(?:\s\(.+?\))?\.?$`

// BridgeConfig controls output line classification.
type BridgeConfig struct {
	TransferPattern string `yaml:"transfer_pattern" json:"transfer_pattern" jsonschema:"description=Regular expression whose three groups capture actor then item then target"`
	Passthrough     string `yaml:"passthrough" json:"passthrough" jsonschema:"description=Forwarding of non-transfer lines,enum=none,enum=all,enum=chat"`
	ChatMarker      string `yaml:"chat_marker" json:"chat_marker" jsonschema:"description=Substring identifying chat lines when passthrough is chat"`
}

// DaemonConfig controls the daemon runtime.
type DaemonConfig struct {
	Socket            string   `yaml:"socket" json:"socket" jsonschema:"description=Unix socket path"`
	PidFile           string   `yaml:"pid_file" json:"pid_file" jsonschema:"description=PID file path"`
	SnapshotInterval  Duration `yaml:"snapshot_interval" json:"snapshot_interval" jsonschema:"description=How often the session snapshot is published"`
	WhitelistDebounce Duration `yaml:"whitelist_debounce" json:"whitelist_debounce" jsonschema:"description=Debounce for whitelist file changes"`
	EventBuffer       int      `yaml:"event_buffer" json:"event_buffer" jsonschema:"description=Number of recent events kept for new subscribers,minimum=0"`
}

// AccessConfig lists the owners.
type AccessConfig struct {
	Owners []string `yaml:"owners" json:"owners,omitempty" jsonschema:"description=User IDs that may always create sessions and edit the whitelist"`
}

// IsOwner reports whether id is listed in access.owners.
func (a AccessConfig) IsOwner(id string) bool {
	for _, owner := range a.Owners {
		if owner == id {
			return true
		}
	}
	return false
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded file into the provided target struct. The target must be a pointer.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// The target simply stays zero-valued.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "yaml",
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}

// Duration is a time.Duration written as a string ("1s", "10m").
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// JSONSchema describes the string form of a duration.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     durationPattern,
		Description: "Go duration string, e.g. 1s or 10m",
	}
}

const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`
