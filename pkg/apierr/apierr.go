// Package apierr defines the single failure shape shared by the server
// dispatcher and the client primitives: an HTTP status and a message that is
// safe to show to a user.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	MsgNoCredentials  = "Please provide a mean of authentification."
	MsgSessionExpired = "Your session has expired. Please signin again."
	MsgAuthFailed     = "An error occured during authentification."
	MsgWrongMethod    = "Wrong method"
	MsgInternal       = "Something wrong happened"
)

// Error is never modified once built. Status 0 means no HTTP response was
// received at all (network fault on the client side).
type Error struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Status == 0 {
		return "transport: " + e.Message
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Body is the JSON document written for a failed call.
func (e *Error) Body() map[string]string {
	return map[string]string{"message": e.Message}
}

func NoCredentials() *Error  { return New(http.StatusUnauthorized, MsgNoCredentials) }
func SessionExpired() *Error { return New(http.StatusUnauthorized, MsgSessionExpired) }
func AuthFailed() *Error     { return New(http.StatusUnauthorized, MsgAuthFailed) }
func Validation(diagnostic string) *Error {
	return New(http.StatusBadRequest, diagnostic)
}
func MethodNotAllowed() *Error { return New(http.StatusMethodNotAllowed, MsgWrongMethod) }
func Internal() *Error         { return New(http.StatusInternalServerError, MsgInternal) }

func Forbidden(message string) *Error { return New(http.StatusForbidden, message) }
func NotFound(message string) *Error  { return New(http.StatusNotFound, message) }

// From returns err as an *Error. Errors of any other type become a status 0
// transport error carrying err's text.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(0, err.Error())
}

func IsUnauthorized(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusUnauthorized
}
