package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"github.com/Euregan/valentin/pkg/apierr"
)

const DefaultSignInPath = "/signin"

type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Key is sent as a bearer token when set.
	Key string
	// Redirect is called with SignInPath whenever a primitive sees a 401.
	Redirect   func(destination string)
	SignInPath string
}

// New returns a client whose cookie jar keeps the session cookie between
// calls.
func New(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:       &http.Client{Jar: jar},
		SignInPath: DefaultSignInPath,
	}
}

// Call performs one JSON request. Any non-2xx response is returned as an
// *apierr.Error carrying the server's message. Failures before a response
// arrives are *apierr.Error with status 0.
func (c *Client) Call(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil && method != http.MethodGet {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, apierr.New(0, "encoding payload: "+err.Error())
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, apierr.From(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Key != "" {
		req.Header.Set("Authorization", "Bearer "+c.Key)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, apierr.From(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.From(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(resp.StatusCode, raw)
	}
	return raw, nil
}

func responseError(status int, raw []byte) *apierr.Error {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return apierr.New(status, body.Message)
	}
	return apierr.New(status, http.StatusText(status))
}

// Do is Call followed by decoding the response into T.
func Do[T any](ctx context.Context, c *Client, method, path string, payload any) (T, error) {
	var out T
	raw, err := c.Call(ctx, method, path, payload)
	if err != nil {
		return out, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apierr.New(0, "decoding response: "+err.Error())
	}
	return out, nil
}

// unauthorized runs the sign-in redirect when err is a 401.
func (c *Client) unauthorized(err *apierr.Error) {
	if err == nil || err.Status != http.StatusUnauthorized || c.Redirect == nil {
		return
	}
	dest := c.SignInPath
	if dest == "" {
		dest = DefaultSignInPath
	}
	c.Redirect(dest)
}
