// Package validate merges the parts of a request into one candidate object
// and checks it against the schema an endpoint declared.
package validate

import (
	"net/url"

	"github.com/Euregan/valentin/pkg/apierr"
)

// Validator returns the validated data, or an error whose text is shown to
// the caller as is.
type Validator interface {
	Validate(candidate map[string]any) (any, error)
}

type Func func(candidate map[string]any) (any, error)

func (f Func) Validate(candidate map[string]any) (any, error) { return f(candidate) }

type Parts struct {
	Body   map[string]any
	Query  url.Values
	Params map[string]string
}

// Merge builds the candidate object. On key collision query parameters
// override the body and route parameters override both.
func Merge(p Parts) map[string]any {
	out := make(map[string]any, len(p.Body)+len(p.Query)+len(p.Params))
	for k, v := range p.Body {
		out[k] = v
	}
	for k, vs := range p.Query {
		switch len(vs) {
		case 0:
		case 1:
			out[k] = vs[0]
		default:
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			out[k] = list
		}
	}
	for k, v := range p.Params {
		out[k] = v
	}
	return out
}

// Payload validates the merged parts. Without a validator it returns
// (nil, nil) and never looks at the parts.
func Payload(v Validator, p Parts) (any, *apierr.Error) {
	if v == nil {
		return nil, nil
	}
	data, err := v.Validate(Merge(p))
	if err != nil {
		return nil, apierr.Validation(err.Error())
	}
	return data, nil
}
