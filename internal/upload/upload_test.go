package upload

import (
	"strings"
	"testing"

	"github.com/grovetools/multiworld/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	v, err := NewValidator([]string{"*.yaml", "*.yml"}, 64)
	require.NoError(t, err)

	tests := []struct {
		name     string
		filename string
		data     string
		wantSlot string
		wantMsg  string
	}{
		{
			name:     "valid yaml",
			filename: "Alice.yaml",
			data:     "name: Alice\ngame: A Link to the Past\n",
			wantSlot: "Alice",
		},
		{
			name:     "yml extension and byte order mark",
			filename: "dir/bob.yml",
			data:     "\xef\xbb\xbfname: Bob\n",
			wantSlot: "Bob",
		},
		{
			name:     "numeric name",
			filename: "p.yaml",
			data:     "name: 42\n",
			wantSlot: "42",
		},
		{
			name:     "wrong extension",
			filename: "Alice.txt",
			data:     "name: Alice\n",
			wantMsg:  "Please upload a file matching *.yaml or *.yml.",
		},
		{
			name:     "missing name",
			filename: "Alice.yaml",
			data:     "game: Factorio\n",
			wantMsg:  "Your YAML file needs a `name` entry.",
		},
		{
			name:     "blank name",
			filename: "Alice.yaml",
			data:     "name: '   '\n",
			wantMsg:  "Your YAML file needs a `name` entry.",
		},
		{
			name:     "not yaml",
			filename: "Alice.yaml",
			data:     "name: [unclosed\n",
			wantMsg:  "Your YAML file could not be parsed.",
		},
		{
			name:     "path in name",
			filename: "Alice.yaml",
			data:     "name: ../etc\n",
			wantMsg:  "cannot be used as a slot name",
		},
		{
			name:     "too large",
			filename: "Alice.yaml",
			data:     "name: Alice\n# " + strings.Repeat("x", 80) + "\n",
			wantMsg:  "too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot, err := v.Parse(tt.filename, []byte(tt.data))
			if tt.wantMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantSlot, slot)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
			assert.Contains(t, errors.UserMessage(err), tt.wantMsg)
		})
	}
}

func TestNewValidatorRejectsBadPattern(t *testing.T) {
	_, err := NewValidator([]string{"[unclosed"}, 0)
	assert.Error(t, err)
}
