package config

import (
	"encoding/json"

	"github.com/grovetools/multiworld/schema"
	"github.com/invopop/jsonschema"
)

// ValidateDocument validates a raw decoded document, before defaults are
// applied, so unknown keys and wrongly typed values are reported.
func ValidateDocument(doc map[string]interface{}) error {
	return schema.Validate(doc)
}

// GenerateSchema generates the JSON Schema for multiworld.yml. The logging
// extension is left open since it belongs to the logging package.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		// Keep section definitions under $defs for readable editor hints.
		ExpandedStruct: true,
		FieldNameTag:   "yaml",
	}

	type BaseConfig struct {
		Version   string                 `yaml:"version,omitempty" jsonschema:"description=Configuration version (e.g. '1.0')"`
		Toolchain ToolchainConfig        `yaml:"toolchain,omitempty" jsonschema:"description=Location and invocation of the generator and server executables"`
		Server    ServerConfig           `yaml:"server,omitempty" jsonschema:"description=How the hosted game server is bound and supervised"`
		Paths     PathsConfig            `yaml:"paths,omitempty" jsonschema:"description=Working roots and persisted files"`
		Uploads   UploadsConfig          `yaml:"uploads,omitempty" jsonschema:"description=Validation of participant uploads"`
		Extract   ExtractConfig          `yaml:"extract,omitempty" jsonschema:"description=Patch file extraction from the generated bundle"`
		Bridge    BridgeConfig           `yaml:"bridge,omitempty" jsonschema:"description=Classification of server output lines"`
		Daemon    DaemonConfig           `yaml:"daemon,omitempty" jsonschema:"description=Daemon socket and background collectors"`
		Access    AccessConfig           `yaml:"access,omitempty" jsonschema:"description=Who may create sessions and edit the whitelist"`
		Logging   map[string]interface{} `yaml:"logging,omitempty" jsonschema:"description=Logging configuration"`
		Tui       map[string]interface{} `yaml:"tui,omitempty" jsonschema:"description=Terminal UI settings such as the color theme"`
	}

	s := r.Reflect(&BaseConfig{})
	s.Title = "Multiworld Configuration"
	s.Description = "Schema for multiworld.yml."
	s.Version = "http://json-schema.org/draft-07/schema#"

	return json.MarshalIndent(s, "", "  ")
}
