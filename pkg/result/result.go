// Package result is the Ok | Err container every endpoint handler returns.
// Business failures travel as Err values; panics are reserved for bugs.
package result

import "github.com/Euregan/valentin/pkg/apierr"

type Result[T any] struct {
	value T
	err   *apierr.Error
}

func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err builds a failed result. A nil error is treated as an internal failure
// so that a failed result always carries a status.
func Err[T any](e *apierr.Error) Result[T] {
	if e == nil {
		e = apierr.Internal()
	}
	return Result[T]{err: e}
}

func (r Result[T]) IsOk() bool { return r.err == nil }

func (r Result[T]) Unwrap() (T, *apierr.Error) {
	return r.value, r.err
}

// Match calls exactly one of onOk or onErr.
func Match[T, U any](r Result[T], onOk func(T) U, onErr func(*apierr.Error) U) U {
	if r.err != nil {
		return onErr(r.err)
	}
	return onOk(r.value)
}

func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if r.err != nil {
		return Result[U]{err: r.err}
	}
	return Ok(f(r.value))
}

// Any erases the value type so typed results can be handed to the dispatcher.
func Any[T any](r Result[T]) Result[any] {
	return Map(r, func(v T) any { return v })
}
