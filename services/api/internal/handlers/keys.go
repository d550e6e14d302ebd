package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/Euregan/valentin/pkg/apierr"
	"github.com/Euregan/valentin/pkg/authn"
	"github.com/Euregan/valentin/pkg/endpoint"
	"github.com/Euregan/valentin/pkg/result"
	"github.com/Euregan/valentin/services/api/internal/store"
)

const (
	msgKeyNotFound   = "Key not found"
	msgKeysNeedLogin = "API keys cannot manage API keys"
)

type newKeyRequest struct {
	Name string `json:"name"`
}

func (r *newKeyRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return errors.New("name: required")
	}
	if len(r.Name) > 100 {
		return errors.New("name: too long")
	}
	return nil
}

// createdKey is the only response that ever carries the plain key.
type createdKey struct {
	store.APIKey
	Key string `json:"key"`
}

func (a *API) listKeys(ctx context.Context, req *endpoint.Request) result.Result[any] {
	if res, ok := requireSession(req); !ok {
		return res
	}
	keys, err := a.Store.ListKeys(ctx, req.Identity.Subject())
	if err != nil {
		return a.internal(req, "listing keys", err)
	}
	return result.Ok[any](keys)
}

func (a *API) createKey(ctx context.Context, req *endpoint.Request) result.Result[any] {
	if res, ok := requireSession(req); !ok {
		return res
	}
	plain, hash, err := authn.NewKey()
	if err != nil {
		return a.internal(req, "generating key", err)
	}
	k, err := a.Store.CreateKey(ctx, store.APIKey{
		KeyID:   "key_" + uuid.NewString(),
		OwnerID: req.Identity.Subject(),
		Name:    endpoint.DataAs[newKeyRequest](req).Name,
		KeyHash: hash,
	})
	if err != nil {
		return a.internal(req, "creating key", err)
	}
	return result.Ok[any](createdKey{APIKey: k, Key: plain})
}

func (a *API) revokeKey(ctx context.Context, req *endpoint.Request) result.Result[any] {
	if res, ok := requireSession(req); !ok {
		return res
	}
	keyID := endpoint.DataAs[resourceRef](req).ID
	err := a.Store.RevokeKey(ctx, req.Identity.Subject(), keyID)
	if errors.Is(err, store.ErrNotFound) {
		return result.Err[any](apierr.NotFound(msgKeyNotFound))
	}
	if err != nil {
		return a.internal(req, "revoking key", err)
	}
	return result.Ok[any](resourceRef{ID: keyID})
}

func requireSession(req *endpoint.Request) (result.Result[any], bool) {
	if _, ok := req.Identity.(*authn.SessionIdentity); ok {
		return result.Result[any]{}, true
	}
	return result.Err[any](apierr.Forbidden(msgKeysNeedLogin)), false
}
