package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Euregan/valentin/pkg/apierr"
	"github.com/Euregan/valentin/pkg/session"
)

type SessionReader interface {
	Read(credential string) (*session.Claims, error)
}

type KeyLookup func(ctx context.Context, key string) (*KeyIdentity, error)

type UsageTracker func(ctx context.Context, key string) error

// Resolver turns presented credentials into an Identity. It never reads the
// HTTP request itself; see CredentialsFromRequest.
//
// A session credential, when present, is the only credential considered: a
// broken session fails the request even if a valid key is also presented.
// Keys are only considered when Lookup is set.
type Resolver struct {
	Sessions   SessionReader
	Lookup     KeyLookup
	TrackUsage UsageTracker
	Logger     *slog.Logger
}

// Resolve returns (nil, nil) for an anonymous caller.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (Identity, *apierr.Error) {
	if creds.Session != "" {
		if r.Sessions == nil {
			return nil, apierr.SessionExpired()
		}
		claims, err := r.Sessions.Read(creds.Session)
		if err != nil {
			r.logger().Debug("rejecting session credential", "error", err)
			return nil, apierr.SessionExpired()
		}
		return &SessionIdentity{Claims: *claims}, nil
	}

	if creds.Key != "" && r.Lookup != nil {
		id, err := r.lookup(ctx, creds.Key)
		if err != nil {
			r.logger().Warn("api key lookup failed", "error", err)
			return nil, apierr.AuthFailed()
		}
		r.track(ctx, creds.Key, id)
		return id, nil
	}

	return nil, nil
}

// Require is Resolve for endpoints that fail closed.
func (r *Resolver) Require(ctx context.Context, creds Credentials) (Identity, *apierr.Error) {
	if creds.Empty() {
		return nil, apierr.NoCredentials()
	}
	id, apiErr := r.Resolve(ctx, creds)
	if apiErr != nil {
		return nil, apiErr
	}
	if id == nil {
		return nil, apierr.NoCredentials()
	}
	return id, nil
}

// Optional attaches a session identity when a valid session credential is
// present. Keys and broken sessions are ignored.
func (r *Resolver) Optional(creds Credentials) Identity {
	if creds.Session == "" || r.Sessions == nil {
		return nil
	}
	claims, err := r.Sessions.Read(creds.Session)
	if err != nil {
		return nil
	}
	return &SessionIdentity{Claims: *claims}
}

func (r *Resolver) lookup(ctx context.Context, key string) (id *KeyIdentity, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			id, err = nil, fmt.Errorf("key lookup panicked: %v", rec)
		}
	}()
	id, err = r.Lookup(ctx, key)
	if err == nil && id == nil {
		err = errors.New("key lookup returned no identity")
	}
	return id, err
}

// track is best-effort: a failing tracker is logged and the request goes on.
func (r *Resolver) track(ctx context.Context, key string, id *KeyIdentity) {
	if r.TrackUsage == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger().Warn("usage tracking panicked", "key_id", id.KeyID, "panic", rec)
		}
	}()
	if err := r.TrackUsage(ctx, key); err != nil {
		r.logger().Warn("usage tracking failed", "key_id", id.KeyID, "error", err)
	}
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
