package session

import (
	"net/http"
	"time"
)

const DefaultCookieName = "session"

type CookieConfig struct {
	Name   string
	Secure bool
}

func (cc CookieConfig) name() string {
	if cc.Name == "" {
		return DefaultCookieName
	}
	return cc.Name
}

// Cookie carries credential for ttl.
func (cc CookieConfig) Cookie(credential string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     cc.name(),
		Value:    credential,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Expired deletes the session cookie on the client.
func (cc CookieConfig) Expired() *http.Cookie {
	c := cc.Cookie("", 0)
	c.MaxAge = -1
	return c
}

func (cc CookieConfig) Set(w http.ResponseWriter, credential string, ttl time.Duration) {
	http.SetCookie(w, cc.Cookie(credential, ttl))
}

func (cc CookieConfig) Clear(w http.ResponseWriter) {
	http.SetCookie(w, cc.Expired())
}

// Read returns the raw credential from r, or "" when the cookie is absent.
func (cc CookieConfig) Read(r *http.Request) string {
	c, err := r.Cookie(cc.name())
	if err != nil {
		return ""
	}
	return c.Value
}
