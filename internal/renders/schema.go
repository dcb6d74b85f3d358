package renders

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation can be used with errors.Is to detect timeline validation
// failures.
var ErrValidation = errors.New("validation failed")

// timelineSchema is the contract for the chat timeline a render is built
// from. Compiled once at startup.
const timelineSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["messages"],
	"properties": {
		"messages": {
			"type": "array",
			"minItems": 1,
			"maxItems": 500,
			"items": {
				"type": "object",
				"additionalProperties": false,
				"required": ["sender", "text"],
				"properties": {
					"sender": {"type": "string", "minLength": 1, "maxLength": 64},
					"text": {"type": "string", "maxLength": 2000}
				}
			}
		},
		"background_url": {"type": "string", "minLength": 1, "maxLength": 2048}
	}
}`

type TimelineValidator struct {
	schema *jsonschema.Schema
}

func NewTimelineValidator() (*TimelineValidator, error) {
	schema, err := jsonschema.CompileString("https://reelforge.dev/schemas/timeline", timelineSchema)
	if err != nil {
		return nil, fmt.Errorf("compile timeline schema: %w", err)
	}
	return &TimelineValidator{schema: schema}, nil
}

// Validate performs hard reject: returns an error if the timeline does not
// match the schema.
func (v *TimelineValidator) Validate(timeline json.RawMessage) error {
	var doc interface{}
	if err := json.Unmarshal(timeline, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
