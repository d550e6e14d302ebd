// Package endpoint dispatches an HTTP request to the handler registered for
// its method and turns the handler's result into the response.
//
// Each request makes a single pass through method lookup, identity
// resolution, payload validation, the handler, and serialization. The first
// failure ends the pass. Handlers report expected failures with result.Err;
// a panic is treated as a bug, logged, and answered with a 500.
package endpoint

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Euregan/valentin/pkg/apierr"
	"github.com/Euregan/valentin/pkg/authn"
	"github.com/Euregan/valentin/pkg/result"
	"github.com/Euregan/valentin/pkg/session"
	"github.com/Euregan/valentin/pkg/validate"
)

type Request struct {
	HTTP      *http.Request
	RequestID string
	// Identity is nil on a visitor endpoint when no valid session was sent.
	Identity authn.Identity
	// Data is what the route's schema returned, or nil without a schema.
	Data any

	header http.Header
}

// SetCookie adds a Set-Cookie header to the response, whatever the outcome
// of the handler.
func (r *Request) SetCookie(c *http.Cookie) {
	if r.header == nil || c == nil {
		return
	}
	if v := c.String(); v != "" {
		r.header.Add("Set-Cookie", v)
	}
}

// DataAs returns req.Data as a T, or T's zero value.
func DataAs[T any](req *Request) T {
	v, _ := req.Data.(T)
	return v
}

type Handler func(ctx context.Context, req *Request) result.Result[any]

type Route struct {
	Schema validate.Validator
	Handle Handler
}

func Handle(h Handler) Route { return Route{Handle: h} }

func Validated(schema validate.Validator, h Handler) Route {
	return Route{Schema: schema, Handle: h}
}

// Methods maps an HTTP method to its route.
type Methods map[string]Route

type Dispatcher struct {
	Sessions authn.SessionReader
	Cookie   session.CookieConfig
	// Lookup and TrackUsage are the default key path of authenticated
	// registrations; options can replace them per registration.
	Lookup       authn.KeyLookup
	TrackUsage   authn.UsageTracker
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type Option func(*authn.Resolver)

func WithKeyLookup(lookup authn.KeyLookup) Option {
	return func(r *authn.Resolver) { r.Lookup = lookup }
}

func WithUsageTracking(track authn.UsageTracker) Option {
	return func(r *authn.Resolver) { r.TrackUsage = track }
}

// SessionOnly disables API keys for a registration.
func SessionOnly() Option {
	return func(r *authn.Resolver) {
		r.Lookup = nil
		r.TrackUsage = nil
	}
}

// Authenticated answers 401 to any request without a resolvable identity.
func (d *Dispatcher) Authenticated(methods Methods, opts ...Option) http.HandlerFunc {
	res := d.resolver(opts)
	return d.dispatch(methods, func(ctx context.Context, creds authn.Credentials) (authn.Identity, *apierr.Error) {
		return res.Require(ctx, creds)
	})
}

// Visitor accepts anonymous callers and attaches a session identity when a
// valid session credential is present.
func (d *Dispatcher) Visitor(methods Methods) http.HandlerFunc {
	res := d.resolver(nil)
	return d.dispatch(methods, func(ctx context.Context, creds authn.Credentials) (authn.Identity, *apierr.Error) {
		return res.Optional(creds), nil
	})
}

func (d *Dispatcher) resolver(opts []Option) *authn.Resolver {
	r := &authn.Resolver{
		Sessions:   d.Sessions,
		Lookup:     d.Lookup,
		TrackUsage: d.TrackUsage,
		Logger:     d.logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}
