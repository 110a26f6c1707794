// Command pagemark anchors review comments to live web pages.
//
// Usage:
//
//	pagemark -review https://example.com/page        # open a review tab
//	pagemark -review URL -mcp                         # same, with the review tools on stdio
//	pagemark -review URL -listen :8090                # same, with the services on HTTP
//	pagemark -serve                                   # run the annotation hub
//	pagemark -token ada -role reviewer                # mint a hub token
//	PAGEMARK_PASSWORD=... pagemark -add-user ada      # create a hub account
//	pagemark -call pagemark_command -payload '{"kind":"hide_all"}'
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagemark/audit"
	"github.com/hazyhaar/pagemark/auth"
	"github.com/hazyhaar/pagemark/connectivity"
	"github.com/hazyhaar/pagemark/dbopen"
	"github.com/hazyhaar/pagemark/engine"
	"github.com/hazyhaar/pagemark/hub"
	"github.com/hazyhaar/pagemark/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to pagemark.yaml config file")
	reviewURL := flag.String("review", "", "open a review session on this URL")
	mcpStdio := flag.Bool("mcp", false, "serve the review tools over stdio (with -review)")
	listen := flag.String("listen", "", "serve the review services over HTTP on this address (with -review)")
	serve := flag.Bool("serve", false, "run the annotation hub")
	tokenUser := flag.String("token", "", "print a hub token for this user id and exit")
	addUser := flag.String("add-user", "", "create a hub account with this handle (password from PAGEMARK_PASSWORD) and exit")
	role := flag.String("role", "reviewer", "role of the minted token or new account: reviewer or viewer")
	callService := flag.String("call", "", "call a service through the configured routes and exit")
	payload := flag.String("payload", "{}", "JSON payload for -call")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case *tokenUser != "":
		err = runToken(*tokenUser, *role)
	case *addUser != "":
		err = runAddUser(ctx, logger, *addUser, *role)
	case *serve:
		err = runServe(ctx, logger)
	case *callService != "":
		err = runCall(ctx, logger, *configPath, *callService, *payload)
	case *reviewURL != "":
		err = runReview(ctx, logger, *configPath, *reviewURL, *listen, *mcpStdio)
	default:
		fmt.Fprintln(os.Stderr, "usage: pagemark -review <url> [-mcp] [-listen addr] | -serve | -token <user> | -add-user <handle> | -call <service>")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("pagemark: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*engine.Config, error) {
	if path == "" {
		return engine.DefaultConfig(), nil
	}
	cfg, err := engine.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// hubSecret derives the 32-byte JWT secret from SESSION_SECRET. Empty
// means the hub runs without authentication.
func hubSecret() []byte {
	input := os.Getenv("SESSION_SECRET")
	if input == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(input))
	return sum[:]
}

func runToken(user, role string) error {
	secret := hubSecret()
	if secret == nil {
		return errors.New("SESSION_SECRET is required to mint tokens")
	}
	if role != "reviewer" && role != "viewer" {
		return fmt.Errorf("unknown role %q", role)
	}
	tok, err := auth.GenerateToken(secret, &auth.Claims{UserID: user, Handle: user, Role: role}, 30*24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func openHubStore() (*store.SQLite, error) {
	var opts []dbopen.Option
	if os.Getenv("DB_TRACE") == "1" {
		opts = append(opts, dbopen.WithTracing())
	}
	return store.OpenSQLite(env("DB_PATH", "data/pagemark.db"), opts...)
}

func runAddUser(ctx context.Context, logger *slog.Logger, handle, role string) error {
	password := os.Getenv("PAGEMARK_PASSWORD")
	if password == "" {
		return errors.New("PAGEMARK_PASSWORD is required")
	}
	backend, err := openHubStore()
	if err != nil {
		return err
	}
	defer backend.Close()
	users, err := auth.NewUsers(backend.DB())
	if err != nil {
		return err
	}
	c, err := users.Create(ctx, handle, handle, password, role)
	if err != nil {
		return err
	}
	logger.Info("pagemark: account created", "handle", c.Handle, "user_id", c.UserID, "role", c.Role)
	return nil
}

func runServe(ctx context.Context, logger *slog.Logger) error {
	port := env("PORT", "8087")

	backend, err := openHubStore()
	if err != nil {
		return err
	}
	defer backend.Close()

	secret := hubSecret()
	if secret == nil {
		logger.Warn("pagemark: SESSION_SECRET not set, hub runs without authentication")
	}
	trail, err := audit.New(backend.DB(), audit.WithLogger(logger))
	if err != nil {
		return err
	}
	defer trail.Close()
	if n, err := trail.Cleanup(ctx, 90*24*time.Hour); err != nil {
		logger.Warn("pagemark: audit cleanup", "error", err)
	} else if n > 0 {
		logger.Info("pagemark: audit cleanup", "deleted", n)
	}

	users, err := auth.NewUsers(backend.DB())
	if err != nil {
		return err
	}

	h, err := hub.New(hub.Config{Backend: backend, Secret: secret, Audit: trail, Users: users, Logger: logger})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serveUntilDone(ctx, logger, srv)
}

func serveUntilDone(ctx context.Context, logger *slog.Logger, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("pagemark: listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("pagemark: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore builds the repository over the configured backend. The sqlite
// handle is nil for the remote backend.
func openStore(cfg *engine.Config, logger *slog.Logger) (*store.Repo, *store.SQLite, error) {
	switch cfg.Store.Backend {
	case "remote":
		remote := store.NewRemote(cfg.Store.HubURL,
			store.WithToken(cfg.Store.Token),
			store.WithRemoteLogger(logger))
		return store.NewRepo(remote, store.WithLogger(logger)), nil, nil
	default:
		sq, err := store.OpenSQLite(cfg.Store.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRepo(sq, store.WithLogger(logger)), sq, nil
	}
}

func newRouter(logger *slog.Logger) *connectivity.Router {
	router := connectivity.New(connectivity.WithLogger(logger))
	router.RegisterTransport("http", connectivity.HTTPFactory())
	return router
}

func runCall(ctx context.Context, logger *slog.Logger, configPath, service, payload string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	router := newRouter(logger)
	defer router.Close()
	if err := router.Apply(cfg.Routes); err != nil {
		return err
	}
	resp, err := router.Call(ctx, service, []byte(payload))
	if err != nil {
		return err
	}
	os.Stdout.Write(resp)
	os.Stdout.Write([]byte("\n"))
	return nil
}

func runReview(ctx context.Context, logger *slog.Logger, configPath, pageURL, listen string, mcpStdio bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if mcpStdio && cfg.Notify.Stdout {
		logger.Warn("pagemark: stdout notifications disabled while MCP uses stdio")
		cfg.Notify.Stdout = false
	}
	cfg.Browser.Logger = logger

	repo, sq, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if sq != nil {
		defer sq.Close()
	}

	rv, err := engine.OpenReview(ctx, cfg, repo, pageURL, engine.WithLogger(logger))
	if err != nil {
		return err
	}
	defer rv.Close()

	if sq != nil && cfg.Store.Watch > 0 {
		w := sq.Watch(store.WatchOptions{Interval: cfg.Store.Watch, Debounce: cfg.Store.Watch / 2, Logger: logger})
		wctx, cancel := context.WithCancel(ctx)
		watched := make(chan struct{})
		go func() {
			w.Run(wctx, rv.Refresh)
			close(watched)
		}()
		defer func() {
			cancel()
			<-watched
		}()
	}

	router := newRouter(logger)
	rv.RegisterConnectivity(router)
	defer router.Close()
	if err := router.Apply(cfg.Routes); err != nil {
		logger.Warn("pagemark: some routes were not applied", "error", err)
	}

	if listen != "" {
		srv := &http.Server{
			Addr:              listen,
			Handler:           connectivity.HTTPHandler(router),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := serveUntilDone(ctx, logger, srv); err != nil {
				logger.Error("pagemark: service listener", "error", err)
			}
		}()
	}

	if mcpStdio {
		srv := mcp.NewServer(&mcp.Implementation{Name: "pagemark", Version: version}, nil)
		rv.RegisterMCP(srv)
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
