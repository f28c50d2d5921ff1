package config

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

var schemaLoader = gojsonschema.NewStringLoader(schemaJSON)

// ValidateSettings checks raw settings, as read from config.json before
// decoding, against the embedded lessonloop schema. Problems are reported by
// their dotted config key, for example "budgets.call_timeout", so they can be
// matched to the file. Semantic checks live in Config.Validate.
func ValidateSettings(settings map[string]any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(settings))
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		problems = append(problems, settingKey(schemaErr.Field())+": "+schemaErr.Description())
	}
	slices.Sort(problems)
	problems = slices.Compact(problems)
	return fmt.Errorf("config schema validation failed: %s", strings.Join(problems, "; "))
}

// settingKey maps a schema field path to the key written in config.json.
func settingKey(field string) string {
	if field == "" || field == "(root)" {
		return "config"
	}
	return strings.TrimPrefix(field, "(root).")
}
