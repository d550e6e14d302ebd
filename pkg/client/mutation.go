package client

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/Euregan/valentin/pkg/apierr"
)

var ErrMutationInFlight = errors.New("client: mutation already in flight")

// Mutation sends payloads with a method fixed at construction. At most one
// Invoke runs at a time per Mutation.
type Mutation[P, T any] struct {
	client *Client
	method string
	route  func(P) string

	mu    sync.Mutex
	state State[T]

	subs subscribers[State[T]]
}

// NewMutation builds a mutation. An empty method means POST. route computes
// the request path from the payload, see Path for fixed paths.
func NewMutation[P, T any](c *Client, method string, route func(P) string) *Mutation[P, T] {
	if method == "" {
		method = http.MethodPost
	}
	return &Mutation[P, T]{client: c, method: method, route: route}
}

// Path returns a route that ignores the payload.
func Path[P any](path string) func(P) string {
	return func(P) string { return path }
}

func (m *Mutation[P, T]) State() State[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mutation[P, T]) Subscribe(fn func(State[T])) (cancel func()) {
	return m.subs.add(fn)
}

// Invoke sends payload and waits for the outcome, which is also stored as
// the mutation's state. While a previous call is in flight it returns
// ErrMutationInFlight without sending anything or touching the state.
// The route is computed before the state changes, so a panicking route
// leaves the mutation usable.
func (m *Mutation[P, T]) Invoke(ctx context.Context, payload P) (T, error) {
	var zero T
	path := m.route(payload)
	m.mu.Lock()
	if m.state.IsLoading() {
		m.mu.Unlock()
		return zero, ErrMutationInFlight
	}
	m.state = Loading[T]()
	m.mu.Unlock()
	m.subs.notify(Loading[T]())

	data, err := Do[T](ctx, m.client, m.method, path, payload)
	if err != nil {
		apiErr := apierr.From(err)
		m.client.unauthorized(apiErr)
		m.set(Failed[T](apiErr))
		return zero, apiErr
	}
	m.set(Succeeded(data))
	return data, nil
}

func (m *Mutation[P, T]) set(next State[T]) {
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
	m.subs.notify(next)
}
