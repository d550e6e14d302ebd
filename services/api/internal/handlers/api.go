// Package handlers holds the endpoints of the valentin API service. Every
// handler runs behind an endpoint.Dispatcher and answers with a
// result.Result; none of them writes to the response directly.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Euregan/valentin/pkg/apierr"
	"github.com/Euregan/valentin/pkg/endpoint"
	"github.com/Euregan/valentin/pkg/result"
	"github.com/Euregan/valentin/pkg/session"
	"github.com/Euregan/valentin/pkg/validate"
	"github.com/Euregan/valentin/services/api/internal/store"
)

type Store interface {
	CreateUser(ctx context.Context, u store.User) (store.User, error)
	UserByEmail(ctx context.Context, email string) (store.User, error)

	ListItems(ctx context.Context, ownerID string) ([]store.Item, error)
	CreateItem(ctx context.Context, it store.Item) (store.Item, error)
	GetItem(ctx context.Context, itemID string) (store.Item, error)
	UpdateItem(ctx context.Context, it store.Item) (store.Item, error)
	DeleteItem(ctx context.Context, itemID string) error

	CreateKey(ctx context.Context, k store.APIKey) (store.APIKey, error)
	ListKeys(ctx context.Context, ownerID string) ([]store.APIKey, error)
	RevokeKey(ctx context.Context, ownerID, keyID string) error
}

type API struct {
	Store    Store
	Sessions *session.Codec
	Cookie   session.CookieConfig
	Limiter  *SignInLimiter
	// TrustProxy keys the sign-in limiter on X-Forwarded-For instead of the
	// peer address. Only set it behind a proxy that overwrites the header.
	TrustProxy bool
	// PasswordCost is the bcrypt cost of new password hashes; zero means
	// bcrypt.DefaultCost.
	PasswordCost int
	Logger       *slog.Logger
}

// Mount registers the service routes on r.
func (a *API) Mount(r chi.Router, d *endpoint.Dispatcher) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/api", func(api chi.Router) {
		api.Handle("/users", d.Visitor(endpoint.Methods{
			http.MethodPost: endpoint.Validated(validate.Struct[signUpRequest]{}, a.signUp),
		}))
		api.Handle("/session", d.Visitor(endpoint.Methods{
			http.MethodGet:    endpoint.Handle(a.currentSession),
			http.MethodPost:   endpoint.Validated(validate.Struct[signInRequest]{}, a.signIn),
			http.MethodDelete: endpoint.Handle(a.signOut),
		}))

		api.Handle("/items", d.Authenticated(endpoint.Methods{
			http.MethodGet:  endpoint.Handle(a.listItems),
			http.MethodPost: endpoint.Validated(newItemSchema, a.createItem),
		}))
		api.Handle("/items/{id}", d.Authenticated(endpoint.Methods{
			http.MethodGet:    endpoint.Validated(validate.Struct[resourceRef]{}, a.getItem),
			http.MethodPut:    endpoint.Validated(itemUpdateSchema, a.updateItem),
			http.MethodDelete: endpoint.Validated(validate.Struct[resourceRef]{}, a.deleteItem),
		}))

		api.Handle("/keys", d.Authenticated(endpoint.Methods{
			http.MethodGet:  endpoint.Handle(a.listKeys),
			http.MethodPost: endpoint.Validated(validate.Struct[newKeyRequest]{}, a.createKey),
		}))
		api.Handle("/keys/{id}", d.Authenticated(endpoint.Methods{
			http.MethodDelete: endpoint.Validated(validate.Struct[resourceRef]{}, a.revokeKey),
		}))
	})
}

// resourceRef is the payload of routes that only need the {id} route param.
type resourceRef struct {
	ID string `json:"id"`
}

// internal logs err and answers with the generic 500 error.
func (a *API) internal(req *endpoint.Request, op string, err error) result.Result[any] {
	a.logger().Error(op,
		"request_id", req.RequestID,
		"error", err)
	return result.Err[any](apierr.Internal())
}

func (a *API) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}
