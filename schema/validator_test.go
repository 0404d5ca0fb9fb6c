package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedSchemaIsJSON(t *testing.T) {
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(Raw(), &doc))
	assert.Equal(t, "Multiworld Configuration", doc["title"])
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(map[string]interface{}{
		"server": map[string]interface{}{"port": 38281},
		"tui":    map[string]interface{}{"theme": "terminal"},
	}))

	err := Validate(map[string]interface{}{
		"bogus":  1,
		"server": map[string]interface{}{"port": 0},
	})
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Violations, 2)
	assert.Equal(t, "/", ve.Violations[0].Path)
	assert.Contains(t, ve.Violations[0].Message, "bogus")
	assert.Equal(t, "/server/port", ve.Violations[1].Path)
	assert.Contains(t, err.Error(), "- /server/port:")
}
