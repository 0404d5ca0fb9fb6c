// Package upload validates a participant's player settings file before it is
// handed to the session.
package upload

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/grovetools/multiworld/errors"
	"github.com/moby/patternmatcher"
	"gopkg.in/yaml.v3"
)

// Validator checks file names, sizes and contents.
type Validator struct {
	matcher  *patternmatcher.PatternMatcher
	patterns []string
	maxSize  int64
}

// NewValidator compiles patterns. maxSize <= 0 disables the size limit.
func NewValidator(patterns []string, maxSize int64) (*Validator, error) {
	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("invalid upload patterns: %w", err)
	}
	return &Validator{matcher: pm, patterns: patterns, maxSize: maxSize}, nil
}

// playerSettings is the part of a settings file the engine reads.
type playerSettings struct {
	Name interface{} `yaml:"name"`
	Game interface{} `yaml:"game"`
}

// Parse validates filename and data and returns the slot named by the
// file's top-level `name` entry.
func (v *Validator) Parse(filename string, data []byte) (string, error) {
	base := filepath.Base(filename)
	ok, err := v.matcher.MatchesOrParentMatches(base)
	if err != nil || !ok {
		return "", errors.InvalidInput(fmt.Sprintf("Please upload a file matching %s.", strings.Join(v.patterns, " or "))).
			WithDetail("filename", filename)
	}

	if v.maxSize > 0 && int64(len(data)) > v.maxSize {
		return "", errors.InvalidInput(fmt.Sprintf("The file is too large (limit %d bytes).", v.maxSize)).
			WithDetail("size", len(data))
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var settings playerSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "Your YAML file could not be parsed.")
	}

	slot := ""
	switch name := settings.Name.(type) {
	case string:
		slot = strings.TrimSpace(name)
	case nil:
	default:
		slot = strings.TrimSpace(fmt.Sprint(name))
	}
	if slot == "" {
		return "", errors.InvalidInput("Your YAML file needs a `name` entry.")
	}
	if strings.ContainsAny(slot, `/\`) || slot == "." || slot == ".." {
		return "", errors.InvalidInput(fmt.Sprintf("The name %q cannot be used as a slot name.", slot))
	}

	return slot, nil
}
