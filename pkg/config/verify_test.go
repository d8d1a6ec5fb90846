package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedSchemaIsValidJSON(t *testing.T) {
	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(embeddedSchema), &schema))
	assert.NotEmpty(t, schema)
}

func TestVerifyAgainstEmbeddedSchema(t *testing.T) {
	cfg := &Config{Topics: []Topic{
		{Topic: "devops", Keywords: []Keyword{{Term: "docker"}}},
	}}
	require.NoError(t, VerifyAgainstEmbeddedSchema(cfg))
}

func TestVerifyAgainstEmbeddedSchema_MissingRequired(t *testing.T) {
	tests := []struct {
		name   string
		cfg    *Config
		errStr string
	}{
		{"no topics", &Config{}, "topics is required"},
		{"unnamed topic", &Config{Topics: []Topic{{Keywords: []Keyword{{Term: "x"}}}}}, "topics[].topic is required"},
		{"no keywords", &Config{Topics: []Topic{{Topic: "devops"}}}, "topics[].keywords is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyAgainstEmbeddedSchema(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errStr)
		})
	}
}
