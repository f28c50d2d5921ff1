package collab

import (
	"fmt"
	"sort"
	"strings"

	"github.com/metalagman/lessonloop/internal/quality"
	"github.com/xeipuuv/gojsonschema"
)

const generateInputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["unit", "context", "iteration"],
  "properties": {
    "unit": { "type": "object" },
    "context": { "type": "object" },
    "iteration": { "type": "integer", "minimum": 1 },
    "directive": { "type": "object" }
  }
}`

const artifactSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["items"],
  "properties": {
    "title": { "type": "string" },
    "instructions": { "type": "string" },
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["kind", "prompt"],
        "properties": {
          "number": { "type": "integer" },
          "kind": { "type": "string", "minLength": 1 },
          "difficulty": { "type": "string" },
          "points": { "type": "number", "minimum": 0 },
          "prompt": { "type": "string", "minLength": 1 },
          "choices": { "type": "array", "items": { "type": "string" } },
          "answer": { "type": "string" },
          "explanation": { "type": "string" },
          "figure": {
            "type": ["object", "null"],
            "required": ["type"],
            "properties": {
              "type": { "type": "string", "minLength": 1 },
              "data": { "type": "object" }
            }
          }
        }
      }
    },
    "summary": {
      "type": ["object", "null"],
      "properties": {
        "total_items": { "type": "integer" },
        "total_points": { "type": "number" }
      }
    }
  }
}`

const critiqueInputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["iteration"],
  "properties": {
    "iteration": { "type": "integer", "minimum": 1 },
    "unit": { "type": "object" },
    "context": { "type": "object" },
    "artifact": { "type": "object" },
    "document": { "type": "object" }
  }
}`

// critiqueSchema requires the full dimension breakdown alongside the decision.
var critiqueSchema = fmt.Sprintf(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["decision", "final_score", "dimension_scores"],
  "properties": {
    "decision": { "type": "string" },
    "final_score": { "type": "number", "minimum": 0, "maximum": 1 },
    "dimension_scores": {
      "type": "object",
      "required": [%s],
      "additionalProperties": { "type": "number", "minimum": 0, "maximum": 1 }
    },
    "strengths": { "type": "array", "items": { "type": "string" } },
    "improvements": { "type": "array", "items": { "type": "string" } },
    "specific_changes": { "type": "array", "items": { "type": "string" } },
    "critical_issues": { "type": "array", "items": { "type": "string" } },
    "notes": { "type": "string" }
  }
}`, quotedList(quality.Dimensions))

func quotedList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(quoted, ", ")
}

var (
	artifactLoader = gojsonschema.NewStringLoader(artifactSchema)
	critiqueLoader = gojsonschema.NewStringLoader(critiqueSchema)
)

// validateJSON checks raw against schema and joins all violations.
func validateJSON(schema gojsonschema.JSONLoader, raw []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validate response: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	sort.Strings(problems)
	return fmt.Errorf("response does not match schema: %s", strings.Join(problems, "; "))
}
