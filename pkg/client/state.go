package client

import (
	"slices"
	"sync"

	"github.com/Euregan/valentin/pkg/apierr"
)

type Status int

const (
	// StatusIdle is only used by mutations that were never invoked.
	StatusIdle Status = iota
	StatusLoading
	StatusFailed
	StatusSucceeded
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusFailed:
		return "failed"
	case StatusSucceeded:
		return "succeeded"
	}
	return "unknown"
}

// State holds exactly one of: nothing (idle, loading), an error, or data.
// The zero value is idle.
type State[T any] struct {
	status Status
	err    *apierr.Error
	data   T
}

func Idle[T any]() State[T]    { return State[T]{status: StatusIdle} }
func Loading[T any]() State[T] { return State[T]{status: StatusLoading} }

func Failed[T any](err *apierr.Error) State[T] {
	return State[T]{status: StatusFailed, err: err}
}

func Succeeded[T any](data T) State[T] {
	return State[T]{status: StatusSucceeded, data: data}
}

func (s State[T]) Status() Status  { return s.status }
func (s State[T]) IsLoading() bool { return s.status == StatusLoading }

// Err is non-nil only for a failed state.
func (s State[T]) Err() *apierr.Error { return s.err }

func (s State[T]) Data() (T, bool) {
	return s.data, s.status == StatusSucceeded
}

// Cases holds one callback per status. A nil callback yields U's zero value.
type Cases[T, U any] struct {
	Idle      func() U
	Loading   func() U
	Failed    func(*apierr.Error) U
	Succeeded func(T) U
}

func Match[T, U any](s State[T], c Cases[T, U]) U {
	var zero U
	switch s.status {
	case StatusIdle:
		if c.Idle != nil {
			return c.Idle()
		}
	case StatusLoading:
		if c.Loading != nil {
			return c.Loading()
		}
	case StatusFailed:
		if c.Failed != nil {
			return c.Failed(s.err)
		}
	case StatusSucceeded:
		if c.Succeeded != nil {
			return c.Succeeded(s.data)
		}
	}
	return zero
}

type subscribers[S any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(S)
}

func (s *subscribers[S]) add(fn func(S)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = map[int]func(S){}
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers[S]) notify(v S) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(S), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
