package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Euregan/valentin/pkg/authn"
	"github.com/Euregan/valentin/pkg/endpoint"
	"github.com/Euregan/valentin/pkg/session"
	"github.com/Euregan/valentin/services/api/internal/store"
)

type fakeStore struct {
	mu      sync.Mutex
	users   map[string]store.User
	items   map[string]store.Item
	keys    map[string]store.APIKey
	revoked map[string]bool
	tracked []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[string]store.User{},
		items:   map[string]store.Item{},
		keys:    map[string]store.APIKey{},
		revoked: map[string]bool{},
	}
}

func (f *fakeStore) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.Email]; ok {
		return store.User{}, store.ErrDuplicate
	}
	u.CreatedAt = time.Now().UTC()
	f.users[u.Email] = u
	return u, nil
}

func (f *fakeStore) UserByEmail(ctx context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) ListItems(ctx context.Context, ownerID string) ([]store.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Item{}
	for _, it := range f.items {
		if it.OwnerID == ownerID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (f *fakeStore) CreateItem(ctx context.Context, it store.Item) (store.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it.CreatedAt = time.Now().UTC()
	it.UpdatedAt = it.CreatedAt
	f.items[it.ItemID] = it
	return it, nil
}

func (f *fakeStore) GetItem(ctx context.Context, itemID string) (store.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemID]
	if !ok {
		return store.Item{}, store.ErrNotFound
	}
	return it, nil
}

func (f *fakeStore) UpdateItem(ctx context.Context, it store.Item) (store.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.items[it.ItemID]
	if !ok {
		return store.Item{}, store.ErrNotFound
	}
	cur.Name, cur.Notes, cur.UpdatedAt = it.Name, it.Notes, time.Now().UTC()
	f.items[it.ItemID] = cur
	return cur, nil
}

func (f *fakeStore) DeleteItem(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[itemID]; !ok {
		return store.ErrNotFound
	}
	delete(f.items, itemID)
	return nil
}

func (f *fakeStore) CreateKey(ctx context.Context, k store.APIKey) (store.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k.CreatedAt = time.Now().UTC()
	f.keys[k.KeyID] = k
	return k, nil
}

func (f *fakeStore) ListKeys(ctx context.Context, ownerID string) ([]store.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.APIKey{}
	for id, k := range f.keys {
		if k.OwnerID == ownerID && !f.revoked[id] {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeStore) RevokeKey(ctx context.Context, ownerID, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok || k.OwnerID != ownerID || f.revoked[keyID] {
		return store.ErrNotFound
	}
	f.revoked[keyID] = true
	return nil
}

func (f *fakeStore) lookupKey(ctx context.Context, key string) (*authn.KeyIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := authn.HashKey(key)
	for id, k := range f.keys {
		if k.KeyHash == hash && !f.revoked[id] {
			return &authn.KeyIdentity{KeyID: k.KeyID, OwnerID: k.OwnerID, Name: k.Name}, nil
		}
	}
	return nil, authn.ErrUnknownKey
}

func (f *fakeStore) trackUsage(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, authn.HashKey(key))
	return nil
}

type testServer struct {
	st      *fakeStore
	api     *API
	router  http.Handler
	limiter *SignInLimiter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	codec, err := session.NewCodec([]byte(strings.Repeat("s", 32)), time.Hour)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := newFakeStore()
	d := &endpoint.Dispatcher{
		Sessions:     codec,
		Lookup:       st.lookupKey,
		TrackUsage:   st.trackUsage,
		MaxBodyBytes: 1 << 16,
		Logger:       logger,
	}
	limiter := NewSignInLimiter(3)
	api := &API{
		Store:        st,
		Sessions:     codec,
		Limiter:      limiter,
		PasswordCost: bcrypt.MinCost,
		Logger:       logger,
	}
	r := chi.NewRouter()
	api.Mount(r, d)
	return &testServer{st: st, api: api, router: r, limiter: limiter}
}

type call struct {
	method string
	path   string
	body   string
	cookie *http.Cookie
	key    string
	// forwardedFor sets X-Forwarded-For.
	forwardedFor string
}

func (ts *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	if c.forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", c.forwardedFor)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) signUp(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rr := ts.do(t, call{method: http.MethodPost, path: "/api/users",
		body: `{"email":"` + email + `","name":"Test","password":"correct horse"}`})
	if rr.Code != 200 {
		t.Fatalf("sign up: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	return sessionCookie(t, rr)
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == session.DefaultCookieName && c.Value != "" {
			return c
		}
	}
	t.Fatalf("expected session cookie, got headers %v", rr.Header())
	return nil
}

func message(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
	return body.Message
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	if rr := ts.do(t, call{method: http.MethodGet, path: "/health"}); rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestSignUpStartsSession(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.signUp(t, "Ada@Example.com")

	rr := ts.do(t, call{method: http.MethodGet, path: "/api/session", cookie: cookie})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	got := decode[sessionView](t, rr)
	if got.User.Email != "ada@example.com" || got.ExpiresAt.Before(time.Now()) {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t, "ada@example.com")
	rr := ts.do(t, call{method: http.MethodPost, path: "/api/users",
		body: `{"email":"ada@example.com","password":"another one"}`})
	if rr.Code != 409 || message(t, rr) != msgEmailTaken {
		t.Fatalf("expected 409 %q, got %d %s", msgEmailTaken, rr.Code, rr.Body.String())
	}
}

func TestSignUpValidation(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, call{method: http.MethodPost, path: "/api/users",
		body: `{"email":"ada@example.com","password":"short"}`})
	if rr.Code != 400 || !strings.Contains(message(t, rr), "password") {
		t.Fatalf("expected 400 about password, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestAnonymousSessionIsNull(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, call{method: http.MethodGet, path: "/api/session"})
	if rr.Code != 200 || strings.TrimSpace(rr.Body.String()) != "null" {
		t.Fatalf("expected 200 null, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSignInAndOut(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t, "ada@example.com")

	rr := ts.do(t, call{method: http.MethodPost, path: "/api/session",
		body: `{"email":"ada@example.com","password":"wrong password"}`})
	if rr.Code != 401 || message(t, rr) != msgBadCredentials {
		t.Fatalf("expected 401 bad credentials, got %d %s", rr.Code, rr.Body.String())
	}

	rr = ts.do(t, call{method: http.MethodPost, path: "/api/session",
		body: `{"email":" ADA@example.com ","password":"correct horse"}`})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	cookie := sessionCookie(t, rr)
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes %+v", cookie)
	}

	rr = ts.do(t, call{method: http.MethodDelete, path: "/api/session", cookie: cookie})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	cleared := rr.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge != -1 {
		t.Fatalf("expected cleared cookie, got %+v", cleared)
	}
}

func TestSignInUnknownUser(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, call{method: http.MethodPost, path: "/api/session",
		body: `{"email":"nobody@example.com","password":"whatever1"}`})
	if rr.Code != 401 || message(t, rr) != msgBadCredentials {
		t.Fatalf("expected 401, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSignInRateLimited(t *testing.T) {
	ts := newTestServer(t)
	body := `{"email":"nobody@example.com","password":"whatever1"}`
	for i := 0; i < 3; i++ {
		if rr := ts.do(t, call{method: http.MethodPost, path: "/api/session", body: body}); rr.Code != 401 {
			t.Fatalf("attempt %d: expected 401, got %d", i, rr.Code)
		}
	}
	rr := ts.do(t, call{method: http.MethodPost, path: "/api/session", body: body})
	if rr.Code != 429 || message(t, rr) != msgTooManyTries {
		t.Fatalf("expected 429, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSignInRateLimitIgnoresForwardedFor(t *testing.T) {
	ts := newTestServer(t)
	body := `{"email":"nobody@example.com","password":"whatever1"}`
	for i := 0; i < 3; i++ {
		rr := ts.do(t, call{method: http.MethodPost, path: "/api/session", body: body,
			forwardedFor: fmt.Sprintf("198.51.100.%d", i)})
		if rr.Code != 401 {
			t.Fatalf("attempt %d: expected 401, got %d", i, rr.Code)
		}
	}
	rr := ts.do(t, call{method: http.MethodPost, path: "/api/session", body: body, forwardedFor: "198.51.100.99"})
	if rr.Code != 429 {
		t.Fatalf("expected 429 despite a new X-Forwarded-For, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSignInRateLimitBehindTrustedProxy(t *testing.T) {
	ts := newTestServer(t)
	ts.api.TrustProxy = true
	body := `{"email":"nobody@example.com","password":"whatever1"}`
	for i := 0; i < 3; i++ {
		if rr := ts.do(t, call{method: http.MethodPost, path: "/api/session", body: body, forwardedFor: "198.51.100.1"}); rr.Code != 401 {
			t.Fatalf("attempt %d: expected 401, got %d", i, rr.Code)
		}
	}
	if rr := ts.do(t, call{method: http.MethodPost, path: "/api/session", body: body, forwardedFor: "198.51.100.1"}); rr.Code != 429 {
		t.Fatalf("expected 429 for the same forwarded client, got %d", rr.Code)
	}
	if rr := ts.do(t, call{method: http.MethodPost, path: "/api/session", body: body, forwardedFor: "198.51.100.2"}); rr.Code != 401 {
		t.Fatalf("expected another forwarded client to keep its own budget, got %d", rr.Code)
	}
}

func TestItemsRequireIdentity(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, call{method: http.MethodGet, path: "/api/items"})
	if rr.Code != 401 {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr = ts.do(t, call{method: http.MethodGet, path: "/api/items", key: "vk_unknown"})
	if rr.Code != 401 {
		t.Fatalf("expected 401 for unknown key, got %d", rr.Code)
	}
}

func TestItemLifecycle(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.signUp(t, "ada@example.com")

	rr := ts.do(t, call{method: http.MethodPost, path: "/api/items", cookie: cookie, body: `{"name":"first","notes":"n"}`})
	if rr.Code != 200 {
		t.Fatalf("create: expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	created := decode[store.Item](t, rr)
	if created.ItemID == "" || created.Name != "first" {
		t.Fatalf("unexpected item %+v", created)
	}

	rr = ts.do(t, call{method: http.MethodGet, path: "/api/items", cookie: cookie})
	if list := decode[[]store.Item](t, rr); len(list) != 1 || list[0].ItemID != created.ItemID {
		t.Fatalf("unexpected list %+v", list)
	}

	// The route id wins over the body id.
	rr = ts.do(t, call{method: http.MethodPut, path: "/api/items/" + created.ItemID, cookie: cookie,
		body: `{"id":"itm_other","name":"renamed"}`})
	if rr.Code != 200 {
		t.Fatalf("update: expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if got := decode[store.Item](t, rr); got.ItemID != created.ItemID || got.Name != "renamed" || got.Notes != "n" {
		t.Fatalf("unexpected update %+v", got)
	}

	rr = ts.do(t, call{method: http.MethodDelete, path: "/api/items/" + created.ItemID, cookie: cookie})
	if rr.Code != 200 {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	rr = ts.do(t, call{method: http.MethodGet, path: "/api/items/" + created.ItemID, cookie: cookie})
	if rr.Code != 404 || message(t, rr) != msgItemNotFound {
		t.Fatalf("expected 404 after delete, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCreateItemValidation(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.signUp(t, "ada@example.com")
	rr := ts.do(t, call{method: http.MethodPost, path: "/api/items", cookie: cookie, body: `{"notes":"no name"}`})
	if rr.Code != 400 || !strings.Contains(message(t, rr), "name") {
		t.Fatalf("expected 400 mentioning name, got %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, call{method: http.MethodPost, path: "/api/items", cookie: cookie, body: `[1]`})
	if rr.Code != 400 {
		t.Fatalf("expected 400 for non-object body, got %d", rr.Code)
	}
}

func TestItemOfAnotherOwnerIsForbidden(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.signUp(t, "ada@example.com")
	other := ts.signUp(t, "bob@example.com")

	rr := ts.do(t, call{method: http.MethodPost, path: "/api/items", cookie: owner, body: `{"name":"mine"}`})
	it := decode[store.Item](t, rr)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rr = ts.do(t, call{method: method, path: "/api/items/" + it.ItemID, cookie: other})
		if rr.Code != 403 || message(t, rr) != "Forbidden" {
			t.Fatalf("%s: expected 403 Forbidden, got %d %s", method, rr.Code, rr.Body.String())
		}
	}
	if _, err := ts.st.GetItem(context.Background(), it.ItemID); err != nil {
		t.Fatalf("expected item to survive, got %v", err)
	}
}

func TestItemsMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, call{method: http.MethodPatch, path: "/api/items"})
	if rr.Code != 405 || message(t, rr) != "Wrong method" {
		t.Fatalf("expected 405, got %d %s", rr.Code, rr.Body.String())
	}
	if allow := rr.Header().Get("Allow"); allow != "GET, POST" {
		t.Fatalf("unexpected Allow header %q", allow)
	}
}

func TestAPIKeyFlow(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.signUp(t, "ada@example.com")

	rr := ts.do(t, call{method: http.MethodPost, path: "/api/keys", cookie: cookie, body: `{"name":"ci"}`})
	if rr.Code != 200 {
		t.Fatalf("create key: expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	created := decode[createdKey](t, rr)
	if !strings.HasPrefix(created.Key, "vk_") || created.KeyID == "" {
		t.Fatalf("unexpected key %+v", created)
	}
	if strings.Contains(rr.Body.String(), authn.HashKey(created.Key)) {
		t.Fatalf("expected key hash not to be exposed")
	}

	rr = ts.do(t, call{method: http.MethodPost, path: "/api/items", key: created.Key, body: `{"name":"via key"}`})
	if rr.Code != 200 {
		t.Fatalf("key create item: expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, call{method: http.MethodGet, path: "/api/items", cookie: cookie})
	if list := decode[[]store.Item](t, rr); len(list) != 1 || list[0].Name != "via key" {
		t.Fatalf("expected item owned by key owner, got %+v", list)
	}
	if len(ts.st.tracked) != 1 || ts.st.tracked[0] != authn.HashKey(created.Key) {
		t.Fatalf("expected one tracked use, got %v", ts.st.tracked)
	}

	rr = ts.do(t, call{method: http.MethodPost, path: "/api/keys", key: created.Key, body: `{"name":"nested"}`})
	if rr.Code != 403 || message(t, rr) != msgKeysNeedLogin {
		t.Fatalf("expected 403 for key minting key, got %d %s", rr.Code, rr.Body.String())
	}

	rr = ts.do(t, call{method: http.MethodGet, path: "/api/keys", cookie: cookie})
	if keys := decode[[]store.APIKey](t, rr); len(keys) != 1 {
		t.Fatalf("expected one key, got %+v", keys)
	}

	rr = ts.do(t, call{method: http.MethodDelete, path: "/api/keys/" + created.KeyID, cookie: cookie})
	if rr.Code != 200 {
		t.Fatalf("revoke: expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, call{method: http.MethodGet, path: "/api/items", key: created.Key})
	if rr.Code != 401 {
		t.Fatalf("expected revoked key to fail, got %d", rr.Code)
	}
	rr = ts.do(t, call{method: http.MethodDelete, path: "/api/keys/" + created.KeyID, cookie: cookie})
	if rr.Code != 404 || message(t, rr) != msgKeyNotFound {
		t.Fatalf("expected 404 on second revoke, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSignInLimiterRefills(t *testing.T) {
	l := NewSignInLimiter(2)
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }
	if !l.Allow("1.2.3.4") || !l.Allow("1.2.3.4") {
		t.Fatal("expected burst of two")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("expected third attempt to be denied")
	}
	if !l.Allow("5.6.7.8") {
		t.Fatal("expected other client to be allowed")
	}
	now = now.Add(30 * time.Second)
	if !l.Allow("1.2.3.4") {
		t.Fatal("expected one token after 30s")
	}
	if NewSignInLimiter(0) != nil || !(*SignInLimiter)(nil).Allow("x") {
		t.Fatal("expected disabled limiter to allow everything")
	}
}
