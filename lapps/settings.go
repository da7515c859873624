package lapps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	invopop "github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/lapphost/lapphost/domain/entities"
)

// SettingsFileName is the per-lapp configuration file in the lapp root.
const SettingsFileName = "settings.yaml"

// settingsSchema compiles the settings JSON schema once. The schema is
// generated from the Go settings types, so the validated shape can
// never drift from what the host actually decodes.
var settingsSchema = sync.OnceValues(func() (*sjsonschema.Schema, error) {
	reflector := invopop.Reflector{ExpandedStruct: true}
	generated, err := json.Marshal(reflector.Reflect(&entities.LappSettings{}))
	if err != nil {
		return nil, fmt.Errorf("marshal generated schema: %w", err)
	}

	compiler := sjsonschema.NewCompiler()
	if err := compiler.AddResource("settings.schema.json", bytes.NewReader(generated)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile("settings.schema.json")
})

// LoadSettings reads, schema-checks, and decodes one lapp's settings
// file.
func LoadSettings(path string) (*entities.LappSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if err := validateSettingsDoc(doc); err != nil {
		return nil, err
	}

	var settings entities.LappSettings
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &settings, nil
}

// validateSettingsDoc runs the document through the generated schema.
// The document is round-tripped through encoding/json first because the
// validator expects JSON-shaped values.
func validateSettingsDoc(doc any) error {
	sch, err := settingsSchema()
	if err != nil {
		return fmt.Errorf("compile settings schema: %w", err)
	}

	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("prepare settings for validation: %w", err)
	}
	var jsonDoc any
	if err := json.Unmarshal(jsonBytes, &jsonDoc); err != nil {
		return fmt.Errorf("prepare settings for validation: %w", err)
	}

	if err := sch.Validate(jsonDoc); err != nil {
		return fmt.Errorf("settings do not match schema: %w", err)
	}
	return nil
}

// SaveSettings writes the settings document back to disk.
func SaveSettings(path string, settings *entities.LappSettings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
