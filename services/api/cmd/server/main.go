package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/Euregan/valentin/pkg/authn"
	"github.com/Euregan/valentin/pkg/config"
	"github.com/Euregan/valentin/pkg/db"
	"github.com/Euregan/valentin/pkg/endpoint"
	"github.com/Euregan/valentin/pkg/session"
	"github.com/Euregan/valentin/services/api/internal/handlers"
	"github.com/Euregan/valentin/services/api/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	addr       string
	migrate    bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("valentin-server", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to the YAML config file (default: $VALENTIN_CONFIG)")
	flagSet.StringVar(&opts.addr, "addr", "", "listen address, overrides the config file")
	flagSet.BoolVar(&opts.migrate, "migrate", false, "apply the database schema before serving")
	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	st := store.New(pool)
	if opts.migrate {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		logger.Info("schema applied")
	}

	codec, err := session.NewCodec([]byte(cfg.Session.Secret), cfg.Session.TTL)
	if err != nil {
		return err
	}
	keys := &authn.PGKeys{DB: pool}
	track, closeTracker, err := usageTracker(ctx, cfg, keys)
	if err != nil {
		return err
	}
	defer closeTracker()

	cookie := session.CookieConfig{Name: cfg.Session.Cookie, Secure: cfg.Session.Secure}
	d := &endpoint.Dispatcher{
		Sessions:     codec,
		Cookie:       cookie,
		Lookup:       keys.Lookup,
		TrackUsage:   track,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       logger,
	}
	api := &handlers.API{
		Store:    st,
		Sessions: codec,
		Cookie:   cookie,
		Limiter:  handlers.NewSignInLimiter(cfg.SignIn.RatePerMinute),
		Logger:   logger,

		TrustProxy: cfg.TrustedProxy,
	}
	r := chi.NewRouter()
	api.Mount(r, d)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "environment", cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// usageTracker counts key usage in redis when configured, else in the
// api_keys table.
func usageTracker(ctx context.Context, cfg *config.Config, keys *authn.PGKeys) (authn.UsageTracker, func(), error) {
	if cfg.RedisURL == "" {
		return keys.TrackUsage, func() {}, nil
	}
	ropts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return authn.NewRedisUsage(rdb).Track, func() { _ = rdb.Close() }, nil
}
