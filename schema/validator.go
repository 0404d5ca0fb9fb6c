// Package schema embeds the JSON Schema for multiworld.yml and validates
// documents against it.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed multiworld.schema.json
var document []byte

const resourceName = "multiworld.schema.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// Raw returns the embedded schema document.
func Raw() []byte {
	return document
}

// Violation is one failed schema keyword at a JSON pointer location.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError lists every violation found in a document.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	lines := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		lines[i] = fmt.Sprintf("- %s: %s", v.Path, v.Message)
	}
	return "schema validation failed:\n" + strings.Join(lines, "\n")
}

func compile() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(resourceName, bytes.NewReader(document)); err != nil {
			compileErr = fmt.Errorf("failed to add embedded schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(resourceName)
		if compileErr != nil {
			compileErr = fmt.Errorf("failed to compile embedded schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// Validate checks v against the schema. v may be any value that marshals to
// JSON; a *ValidationError is returned when the document does not conform.
func Validate(v interface{}) error {
	s, err := compile()
	if err != nil {
		return err
	}

	// The validator only understands plain JSON values.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}

	err = s.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Violations: flatten(ve)}
	}
	return fmt.Errorf("schema validation failed: %w", err)
}

// flatten keeps the leaf causes, which carry the actionable messages.
func flatten(root *jsonschema.ValidationError) []Violation {
	var out []Violation
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := e.InstanceLocation
			if path == "" {
				path = "/"
			}
			out = append(out, Violation{Path: path, Message: e.Message})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(root)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
