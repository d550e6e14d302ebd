package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Euregan/valentin/pkg/apierr"
)

const RequestIDHeader = "X-Request-Id"

var (
	ErrBodyTooLarge = errors.New("request body too large")
	ErrNotObject    = errors.New("request body must be a JSON object")
	ErrBadJSON      = errors.New("request body is not valid JSON")
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes e. A status outside 100-599, such as the status 0 of a
// transport error, is written as an internal failure.
func WriteError(w http.ResponseWriter, e *apierr.Error) {
	if e == nil || e.Status < 100 || e.Status > 599 {
		e = apierr.Internal()
	}
	WriteJSON(w, e.Status, e.Body())
}

// ReadObject decodes the request body as a single JSON object. An empty body
// is an empty object. Numbers are kept as json.Number.
func ReadObject(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, ErrBodyTooLarge
		}
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, ErrBadJSON
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrBadJSON
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// ClientIP returns the peer address of r. X-Forwarded-For is only read when
// trustProxy is set, since any client can send it.
func ClientIP(r *http.Request, trustProxy bool) string {
	if r == nil {
		return "unknown"
	}
	if trustProxy {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			if v := strings.TrimSpace(strings.Split(xff, ",")[0]); v != "" {
				return v
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if strings.TrimSpace(r.RemoteAddr) == "" {
		return "unknown"
	}
	return strings.TrimSpace(r.RemoteAddr)
}
