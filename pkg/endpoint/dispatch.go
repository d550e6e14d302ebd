package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Euregan/valentin/pkg/apierr"
	"github.com/Euregan/valentin/pkg/authn"
	"github.com/Euregan/valentin/pkg/httpx"
	"github.com/Euregan/valentin/pkg/result"
	"github.com/Euregan/valentin/pkg/validate"
)

type identifyFunc func(ctx context.Context, creds authn.Credentials) (authn.Identity, *apierr.Error)

func (d *Dispatcher) dispatch(methods Methods, identify identifyFunc) http.HandlerFunc {
	allow := allowHeader(methods)
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := httpx.NewRequestID()
		w.Header().Set(httpx.RequestIDHeader, requestID)

		route, ok := methods[r.Method]
		if !ok || route.Handle == nil {
			w.Header().Set("Allow", allow)
			httpx.WriteError(w, apierr.MethodNotAllowed())
			return
		}

		defer func() {
			if rec := recover(); rec != nil {
				d.logger().Error("handler fault",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestID,
					"panic", rec,
					"stack", string(debug.Stack()))
				httpx.WriteError(w, apierr.Internal())
			}
		}()

		identity, apiErr := identify(r.Context(), authn.CredentialsFromRequest(r, d.Cookie))
		if apiErr != nil {
			httpx.WriteError(w, apiErr)
			return
		}

		data, apiErr := d.payload(w, r, route.Schema)
		if apiErr != nil {
			httpx.WriteError(w, apiErr)
			return
		}

		res := route.Handle(r.Context(), &Request{
			HTTP:      r,
			RequestID: requestID,
			Identity:  identity,
			Data:      data,
			header:    w.Header(),
		})
		d.write(w, r, requestID, res)
	}
}

func (d *Dispatcher) payload(w http.ResponseWriter, r *http.Request, schema validate.Validator) (any, *apierr.Error) {
	if schema == nil {
		return nil, nil
	}
	if d.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, d.MaxBodyBytes)
	}
	body, err := httpx.ReadObject(r)
	if err != nil {
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			return nil, apierr.New(http.StatusRequestEntityTooLarge, "Request body too large")
		}
		return nil, apierr.Validation(err.Error())
	}
	return validate.Payload(schema, validate.Parts{
		Body:   body,
		Query:  r.URL.Query(),
		Params: routeParams(r),
	})
}

func (d *Dispatcher) write(w http.ResponseWriter, r *http.Request, requestID string, res result.Result[any]) {
	data, apiErr := res.Unwrap()
	if apiErr != nil {
		httpx.WriteError(w, apiErr)
		return
	}
	b, err := json.Marshal(data)
	if err != nil {
		d.logger().Error("encoding response",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID,
			"error", err)
		httpx.WriteError(w, apierr.Internal())
		return
	}
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(b, '\n'))
}

func routeParams(r *http.Request) map[string]string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	out := make(map[string]string, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		if k == "*" || i >= len(rctx.URLParams.Values) {
			continue
		}
		out[k] = rctx.URLParams.Values[i]
	}
	return out
}

func allowHeader(methods Methods) string {
	out := make([]string, 0, len(methods))
	for m, route := range methods {
		if route.Handle != nil {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
