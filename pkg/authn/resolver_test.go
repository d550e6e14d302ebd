package authn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Euregan/valentin/pkg/apierr"
	"github.com/Euregan/valentin/pkg/session"
)

type fakeSessions struct {
	claims map[string]*session.Claims
	reads  int
}

func (f *fakeSessions) Read(credential string) (*session.Claims, error) {
	f.reads++
	c, ok := f.claims[credential]
	if !ok {
		return nil, session.ErrExpired
	}
	return c, nil
}

type fakeKeys struct {
	lookups   int
	tracked   []string
	lookupErr error
	trackErr  error
	panics    bool
}

func (f *fakeKeys) lookup(ctx context.Context, key string) (*KeyIdentity, error) {
	f.lookups++
	if f.panics {
		panic("boom")
	}
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if key != "vk_good" {
		return nil, ErrUnknownKey
	}
	return &KeyIdentity{KeyID: "key_1", OwnerID: "usr_2"}, nil
}

func (f *fakeKeys) track(ctx context.Context, key string) error {
	f.tracked = append(f.tracked, key)
	return f.trackErr
}

func newResolver(keys *fakeKeys) (*Resolver, *fakeSessions) {
	sessions := &fakeSessions{claims: map[string]*session.Claims{
		"good": {ID: "tok_1", User: session.User{ID: "usr_1"}},
	}}
	return &Resolver{
		Sessions:   sessions,
		Lookup:     keys.lookup,
		TrackUsage: keys.track,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, sessions
}

func expectStatus(t *testing.T, err *apierr.Error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", msg)
	}
	if err.Status != 401 || err.Message != msg {
		t.Fatalf("expected 401 %q, got %d %q", msg, err.Status, err.Message)
	}
}

func TestRequireWithoutCredentials(t *testing.T) {
	keys := &fakeKeys{}
	r, sessions := newResolver(keys)
	id, err := r.Require(context.Background(), Credentials{})
	if id != nil {
		t.Fatalf("expected no identity")
	}
	expectStatus(t, err, apierr.MsgNoCredentials)
	if sessions.reads != 0 || keys.lookups != 0 {
		t.Fatalf("expected no credential checks")
	}
}

func TestResolveAnonymousIsNotAnError(t *testing.T) {
	r, _ := newResolver(&fakeKeys{})
	id, err := r.Resolve(context.Background(), Credentials{})
	if id != nil || err != nil {
		t.Fatalf("expected anonymous result, got %v %v", id, err)
	}
}

func TestResolveSession(t *testing.T) {
	r, _ := newResolver(&fakeKeys{})
	id, err := r.Require(context.Background(), Credentials{Session: "good"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	s, ok := id.(*SessionIdentity)
	if !ok || s.Subject() != "usr_1" {
		t.Fatalf("expected session identity for usr_1, got %#v", id)
	}
}

func TestExpiredSessionWinsOverValidKey(t *testing.T) {
	keys := &fakeKeys{}
	r, _ := newResolver(keys)
	_, err := r.Require(context.Background(), Credentials{Session: "stale", Key: "vk_good"})
	expectStatus(t, err, apierr.MsgSessionExpired)
	if keys.lookups != 0 {
		t.Fatalf("expected key not to be looked up, got %d lookups", keys.lookups)
	}
}

func TestResolveKeyTracksUsage(t *testing.T) {
	keys := &fakeKeys{}
	r, _ := newResolver(keys)
	id, err := r.Require(context.Background(), Credentials{Key: "vk_good"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	k, ok := id.(*KeyIdentity)
	if !ok || k.Subject() != "usr_2" {
		t.Fatalf("expected key identity for usr_2, got %#v", id)
	}
	if len(keys.tracked) != 1 || keys.tracked[0] != "vk_good" {
		t.Fatalf("expected one tracking call with the key, got %v", keys.tracked)
	}
}

func TestTrackingFailureDoesNotFailAuthentication(t *testing.T) {
	keys := &fakeKeys{trackErr: errors.New("db down")}
	r, _ := newResolver(keys)
	id, err := r.Require(context.Background(), Credentials{Key: "vk_good"})
	if err != nil {
		t.Fatalf("expected tracking failure to be swallowed, got %v", err)
	}
	if id == nil {
		t.Fatalf("expected identity despite tracking failure")
	}
}

func TestLookupFailuresAreNormalized(t *testing.T) {
	cases := map[string]*fakeKeys{
		"unknown key": {},
		"store error": {lookupErr: errors.New("connection reset")},
		"panic":       {panics: true},
	}
	for name, keys := range cases {
		t.Run(name, func(t *testing.T) {
			r, _ := newResolver(keys)
			key := "vk_bad"
			if keys.lookupErr != nil || keys.panics {
				key = "vk_good"
			}
			_, err := r.Require(context.Background(), Credentials{Key: key})
			expectStatus(t, err, apierr.MsgAuthFailed)
			if len(keys.tracked) != 0 {
				t.Fatalf("expected no tracking on failed lookup")
			}
		})
	}
}

func TestKeyIgnoredWithoutLookup(t *testing.T) {
	r, _ := newResolver(&fakeKeys{})
	r.Lookup = nil
	_, err := r.Require(context.Background(), Credentials{Key: "vk_good"})
	expectStatus(t, err, apierr.MsgNoCredentials)
}

func TestOptional(t *testing.T) {
	keys := &fakeKeys{}
	r, _ := newResolver(keys)
	if id := r.Optional(Credentials{Session: "good"}); id == nil || id.Subject() != "usr_1" {
		t.Fatalf("expected session identity, got %v", id)
	}
	if id := r.Optional(Credentials{Session: "stale"}); id != nil {
		t.Fatalf("expected broken session to be ignored, got %v", id)
	}
	if id := r.Optional(Credentials{Key: "vk_good"}); id != nil {
		t.Fatalf("expected keys to be ignored on visitor endpoints, got %v", id)
	}
	if keys.lookups != 0 {
		t.Fatalf("expected no key lookups")
	}
}
