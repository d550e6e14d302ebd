package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/Euregan/valentin/pkg/apierr"
	"github.com/Euregan/valentin/pkg/client"
	"github.com/Euregan/valentin/pkg/session"
)

const usage = "usage: valctl [--url <base>] [--key <api key>] <signin|signout|whoami|items|keys> ..."

type item struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Notes string `json:"notes"`
}

type ref struct {
	ID string `json:"id"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type cli struct {
	stdout      io.Writer
	client      *client.Client
	sessionFile string
	cookieName  string
	// signinNeeded is set by the client's redirect hook.
	signinNeeded string
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flagSet := pflag.NewFlagSet("valctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	baseURL := flagSet.String("url", envDefault("VALENTIN_URL", "http://localhost:8080"), "base url of the valentin API")
	key := flagSet.String("key", os.Getenv("VALENTIN_KEY"), "API key, sent as a bearer token")
	sessionFile := flagSet.String("session-file", defaultSessionFile(), "where signin stores the session credential")
	cookieName := flagSet.String("cookie", session.DefaultCookieName, "session cookie name")
	signinPath := flagSet.String("signin-path", client.DefaultSignInPath, "sign-in destination reported on 401")
	timeout := flagSet.Duration("timeout", 15*time.Second, "request timeout")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		failSummary(stdout, "", err.Error())
		return 2
	}
	rest := flagSet.Args()
	if len(rest) == 0 {
		failSummary(stdout, "", usage)
		return 2
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c := &cli{
		stdout:      stdout,
		client:      client.New(*baseURL),
		sessionFile: *sessionFile,
		cookieName:  *cookieName,
	}
	c.client.Key = strings.TrimSpace(*key)
	c.client.SignInPath = *signinPath
	c.client.Redirect = func(dest string) { c.signinNeeded = c.client.BaseURL + dest }
	if err := c.loadSession(); err != nil {
		failSummary(stdout, rest[0], err.Error())
		return 1
	}

	var err error
	switch rest[0] {
	case "signin":
		err = c.signIn(ctx, rest[1:])
	case "signout":
		err = c.signOut(ctx)
	case "whoami":
		err = c.whoami(ctx)
	case "items":
		err = c.items(ctx, rest[1:])
	case "keys":
		err = c.keys(ctx, rest[1:])
	default:
		failSummary(stdout, rest[0], "unknown command")
		return 2
	}
	if err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			failSummary(stdout, rest[0], usageErr.Error())
			return 2
		}
		reason := err.Error()
		if c.signinNeeded != "" {
			reason += "; sign in at " + c.signinNeeded + " or run valctl signin"
		}
		failSummary(stdout, rest[0], reason)
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

func (c *cli) signIn(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("signin", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("VALENTIN_PASSWORD"), "account password (default: $VALENTIN_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if strings.TrimSpace(*email) == "" || *password == "" {
		return usageError("both --email and --password are required")
	}
	m := client.NewMutation[credentials, session.User](c.client, http.MethodPost, client.Path[credentials]("/api/session"))
	user, err := m.Invoke(ctx, credentials{Email: *email, Password: *password})
	if err != nil {
		return err
	}
	if err := c.saveSession(); err != nil {
		return err
	}
	return c.print(user)
}

func (c *cli) signOut(ctx context.Context) error {
	m := client.NewMutation[struct{}, any](c.client, http.MethodDelete, client.Path[struct{}]("/api/session"))
	if _, err := m.Invoke(ctx, struct{}{}); err != nil {
		return err
	}
	if err := os.Remove(c.sessionFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return c.print(map[string]string{"status": "signed out"})
}

func (c *cli) whoami(ctx context.Context) error {
	return show(ctx, c, client.NewQuery[json.RawMessage](ctx, c.client, "/api/session"))
}

func (c *cli) items(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("usage: valctl items <list|add|rm>")
	}
	switch args[0] {
	case "list":
		return show(ctx, c, client.NewQuery[[]item](ctx, c.client, "/api/items"))
	case "add":
		fs := pflag.NewFlagSet("items add", pflag.ContinueOnError)
		fs.SetOutput(io.Discard)
		name := fs.String("name", "", "item name")
		notes := fs.String("notes", "", "item notes")
		if err := fs.Parse(args[1:]); err != nil {
			return usageError(err.Error())
		}
		m := client.NewMutation[item, item](c.client, http.MethodPost, client.Path[item]("/api/items"))
		created, err := m.Invoke(ctx, item{Name: *name, Notes: *notes})
		if err != nil {
			return err
		}
		return c.print(created)
	case "rm":
		if len(args) != 2 {
			return usageError("usage: valctl items rm <id>")
		}
		m := client.NewMutation[item, item](c.client, http.MethodDelete, func(it item) string {
			return "/api/items/" + url.PathEscape(it.ID)
		})
		removed, err := m.Invoke(ctx, item{ID: args[1]})
		if err != nil {
			return err
		}
		return c.print(removed)
	}
	return usageError("usage: valctl items <list|add|rm>")
}

func (c *cli) keys(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("usage: valctl keys <list|create|revoke>")
	}
	switch args[0] {
	case "list":
		return show(ctx, c, client.NewQuery[json.RawMessage](ctx, c.client, "/api/keys"))
	case "create":
		if len(args) != 2 {
			return usageError("usage: valctl keys create <name>")
		}
		m := client.NewMutation[map[string]string, json.RawMessage](c.client, http.MethodPost, client.Path[map[string]string]("/api/keys"))
		created, err := m.Invoke(ctx, map[string]string{"name": args[1]})
		if err != nil {
			return err
		}
		return c.print(created)
	case "revoke":
		if len(args) != 2 {
			return usageError("usage: valctl keys revoke <id>")
		}
		m := client.NewMutation[ref, json.RawMessage](c.client, http.MethodDelete, func(r ref) string {
			return "/api/keys/" + url.PathEscape(r.ID)
		})
		revoked, err := m.Invoke(ctx, ref{ID: args[1]})
		if err != nil {
			return err
		}
		return c.print(revoked)
	}
	return usageError("usage: valctl keys <list|create|revoke>")
}

// show waits for the query to settle and prints its data.
func show[T any](ctx context.Context, c *cli, q *client.Query[T]) error {
	st, err := q.Wait(ctx)
	if err != nil {
		return apierr.From(err)
	}
	return client.Match(st, client.Cases[T, error]{
		Idle:      func() error { return nil },
		Loading:   func() error { return nil },
		Failed:    func(e *apierr.Error) error { return e },
		Succeeded: func(data T) error { return c.print(data) },
	})
}

func (c *cli) print(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.stdout, string(b))
	return err
}

// loadSession puts a previously stored session credential in the cookie jar.
func (c *cli) loadSession() error {
	if c.sessionFile == "" {
		return nil
	}
	raw, err := os.ReadFile(c.sessionFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	cred := strings.TrimSpace(string(raw))
	if cred == "" {
		return nil
	}
	u, err := url.Parse(c.client.BaseURL)
	if err != nil {
		return err
	}
	c.client.HTTP.Jar.SetCookies(u, []*http.Cookie{{Name: c.cookieName, Value: cred, Path: "/"}})
	return nil
}

func (c *cli) saveSession() error {
	if c.sessionFile == "" {
		return nil
	}
	u, err := url.Parse(c.client.BaseURL)
	if err != nil {
		return err
	}
	for _, ck := range c.client.HTTP.Jar.Cookies(u) {
		if ck.Name != c.cookieName {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(c.sessionFile), 0o700); err != nil {
			return err
		}
		return os.WriteFile(c.sessionFile, []byte(ck.Value+"\n"), 0o600)
	}
	return errors.New("server did not return a session cookie")
}

func failSummary(w io.Writer, command, reason string) {
	fmt.Fprintf(w, "{\"status\":\"FAIL\",\"command\":%s,\"reason\":%s,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(command),
		jsonQuote(reason),
		time.Now().UTC().Format(time.RFC3339),
	)
}

func jsonQuote(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "valentin", "session")
}
