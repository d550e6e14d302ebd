package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Euregan/valentin/pkg/apierr"
	"github.com/Euregan/valentin/pkg/authn"
	"github.com/Euregan/valentin/pkg/endpoint"
	"github.com/Euregan/valentin/pkg/httpx"
	"github.com/Euregan/valentin/pkg/result"
	"github.com/Euregan/valentin/pkg/session"
	"github.com/Euregan/valentin/services/api/internal/store"
)

const (
	msgBadCredentials = "Invalid email or password"
	msgTooManyTries   = "Too many attempts"
	msgEmailTaken     = "Email already registered"
	minPasswordLen    = 8
)

type signUpRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (r *signUpRequest) Validate() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Name = strings.TrimSpace(r.Name)
	if !isSaneEmail(r.Email) {
		return errors.New("email: invalid address")
	}
	if len(r.Password) < minPasswordLen {
		return errors.New("password: must be at least 8 characters")
	}
	return nil
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *signInRequest) Validate() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Email == "" || r.Password == "" {
		return errors.New("email and password are required")
	}
	return nil
}

type sessionView struct {
	User      session.User `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (a *API) signUp(ctx context.Context, req *endpoint.Request) result.Result[any] {
	in := endpoint.DataAs[signUpRequest](req)
	cost := a.PasswordCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), cost)
	if err != nil {
		return a.internal(req, "hashing password", err)
	}
	u, err := a.Store.CreateUser(ctx, store.User{
		UserID:       "usr_" + uuid.NewString(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: string(hash),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return result.Err[any](apierr.New(http.StatusConflict, msgEmailTaken))
	}
	if err != nil {
		return a.internal(req, "creating user", err)
	}
	return a.startSession(req, u)
}

func (a *API) signIn(ctx context.Context, req *endpoint.Request) result.Result[any] {
	if !a.Limiter.Allow(httpx.ClientIP(req.HTTP, a.TrustProxy)) {
		return result.Err[any](apierr.New(http.StatusTooManyRequests, msgTooManyTries))
	}
	in := endpoint.DataAs[signInRequest](req)
	u, err := a.Store.UserByEmail(ctx, in.Email)
	if errors.Is(err, store.ErrNotFound) {
		return result.Err[any](apierr.New(http.StatusUnauthorized, msgBadCredentials))
	}
	if err != nil {
		return a.internal(req, "loading user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		return result.Err[any](apierr.New(http.StatusUnauthorized, msgBadCredentials))
	}
	return a.startSession(req, u)
}

func (a *API) startSession(req *endpoint.Request, u store.User) result.Result[any] {
	su := session.User{ID: u.UserID, Email: u.Email, Name: u.Name}
	cred, err := a.Sessions.Issue(su)
	if err != nil {
		return a.internal(req, "issuing session", err)
	}
	req.SetCookie(a.Cookie.Cookie(cred, a.Sessions.TTL()))
	return result.Ok[any](su)
}

// currentSession answers null to anonymous visitors.
func (a *API) currentSession(ctx context.Context, req *endpoint.Request) result.Result[any] {
	id, ok := req.Identity.(*authn.SessionIdentity)
	if !ok {
		return result.Ok[any](nil)
	}
	return result.Ok[any](sessionView{User: id.User, ExpiresAt: id.Expiry()})
}

func (a *API) signOut(ctx context.Context, req *endpoint.Request) result.Result[any] {
	req.SetCookie(a.Cookie.Expired())
	return result.Ok[any](nil)
}

func isSaneEmail(email string) bool {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(email)), "@")
	if len(parts) != 2 {
		return false
	}
	local := strings.TrimSpace(parts[0])
	domain := strings.TrimSpace(parts[1])
	return local != "" && domain != "" && strings.Contains(domain, ".")
}
