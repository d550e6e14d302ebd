package client

import (
	"context"
	"net/http"
	"reflect"
	"sync"

	"github.com/Euregan/valentin/pkg/apierr"
)

// Query keeps the latest outcome of GET <target>. It fetches on creation and
// again whenever the target changes.
//
// Each fetch is numbered. A response that arrives after a newer fetch was
// started still settles its own Refresh call but never overwrites State.
type Query[T any] struct {
	client *Client

	mu      sync.Mutex
	target  string
	gen     uint64
	state   State[T]
	changed chan struct{}

	subs subscribers[State[T]]
}

// NewQuery starts fetching target in the background. ctx bounds that first
// fetch.
func NewQuery[T any](ctx context.Context, c *Client, target string) *Query[T] {
	q := &Query[T]{
		client:  c,
		target:  target,
		state:   Loading[T](),
		changed: make(chan struct{}),
	}
	q.gen = 1
	go q.fetch(ctx, 1, target)
	return q
}

func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Query[T]) Target() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.target
}

// Subscribe calls fn after every state change until the returned cancel
// function is called. Identical successive states are not reported.
func (q *Query[T]) Subscribe(fn func(State[T])) (cancel func()) {
	return q.subs.add(fn)
}

// SetTarget switches the query to a new target: state goes back to Loading
// and a fetch bounded by ctx starts. Setting the current target does nothing.
func (q *Query[T]) SetTarget(ctx context.Context, target string) {
	q.mu.Lock()
	if target == q.target {
		q.mu.Unlock()
		return
	}
	q.target = target
	q.gen++
	gen := q.gen
	q.mu.Unlock()

	q.publish(gen, Loading[T]())
	go q.fetch(ctx, gen, target)
}

// Refresh fetches the current target again and returns the outcome. The
// previous state stays visible until the call settles.
func (q *Query[T]) Refresh(ctx context.Context) (T, error) {
	q.mu.Lock()
	q.gen++
	gen, target := q.gen, q.target
	q.mu.Unlock()
	return q.fetch(ctx, gen, target)
}

// Wait blocks until the query is not loading and returns its state.
func (q *Query[T]) Wait(ctx context.Context) (State[T], error) {
	for {
		q.mu.Lock()
		st, ch := q.state, q.changed
		q.mu.Unlock()
		if !st.IsLoading() {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

func (q *Query[T]) fetch(ctx context.Context, gen uint64, target string) (T, error) {
	data, err := Do[T](ctx, q.client, http.MethodGet, target, nil)
	if err != nil {
		apiErr := apierr.From(err)
		q.client.unauthorized(apiErr)
		q.publish(gen, Failed[T](apiErr))
		var zero T
		return zero, apiErr
	}
	q.publish(gen, Succeeded(data))
	return data, nil
}

// publish stores next unless a newer fetch has started since gen.
func (q *Query[T]) publish(gen uint64, next State[T]) {
	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return
	}
	if reflect.DeepEqual(q.state, next) {
		q.mu.Unlock()
		return
	}
	q.state = next
	close(q.changed)
	q.changed = make(chan struct{})
	q.mu.Unlock()

	q.subs.notify(next)
}
