package validate

import (
	"encoding/json"
	"errors"
	"fmt"
)

type selfValidating interface {
	Validate() error
}

// Struct decodes the candidate into T. Keys T does not declare are dropped.
// When *T has a Validate method it runs after decoding.
type Struct[T any] struct{}

func (Struct[T]) Validate(candidate map[string]any) (any, error) {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, decodeMessage(err)
	}
	if v, ok := any(&out).(selfValidating); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeMessage(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Errorf("%s: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
	}
	return errors.New("invalid payload")
}
