package validate

import (
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type JSONSchema struct {
	schema *jsonschema.Schema
}

func CompileJSONSchema(name, source string) (*JSONSchema, error) {
	s, err := jsonschema.CompileString(name, source)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, err)
	}
	return &JSONSchema{schema: s}, nil
}

func MustJSONSchema(name, source string) *JSONSchema {
	s, err := CompileJSONSchema(name, source)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate returns the candidate itself when it matches. The diagnostic is
// the first leaf cause reported by the schema library.
func (j *JSONSchema) Validate(candidate map[string]any) (any, error) {
	doc := make(map[string]interface{}, len(candidate))
	for k, v := range candidate {
		doc[k] = v
	}
	if err := j.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, errors.New(leafMessage(ve))
		}
		return nil, err
	}
	return candidate, nil
}

func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" || ve.InstanceLocation == "/" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}
