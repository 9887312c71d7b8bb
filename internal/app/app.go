// Package app assembles the store, ledger clients, orchestrator, replicator
// and HTTP handler from a Config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"gigledger/internal/config"
	"gigledger/internal/db"
	"gigledger/internal/engine"
	"gigledger/internal/escrow"
	"gigledger/internal/ledger"
	"gigledger/internal/metrics"
	"gigledger/internal/migrate"
	"gigledger/internal/notify"
	"gigledger/internal/replicator"
	"gigledger/internal/repo"
	"gigledger/internal/resolver"
	"gigledger/internal/server"
)

// Secrets are read from the environment, never from the config file.
type Secrets struct {
	JWTSecret    string
	LedgerToken  string
	SMTPPassword string
}

type Options struct {
	Workspace string
	Config    *config.Config
	Secrets   Secrets
	Logger    *slog.Logger
	// Gateway and Indexer override the network clients built from Config.
	Gateway ledger.Gateway
	Indexer ledger.Indexer
	// Sender overrides the SMTP sender built from Config.Mail.
	Sender notify.Sender
	// ResolverSleep overrides the resolver's wait between polls.
	ResolverSleep func(ctx context.Context, d time.Duration) error
}

type App struct {
	DB         *sql.DB
	Config     *config.Config
	Secrets    Secrets
	Engine     engine.Engine
	Escrow     *escrow.Orchestrator
	Replicator *replicator.Replicator
	Notifier   *notify.Notifier
	Logger     *slog.Logger
}

// Open opens and migrates the workspace database and wires every component.
func Open(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(opts.Workspace); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{
		Workspace:   opts.Workspace,
		File:        cfg.Store.File,
		BusyTimeout: cfg.Store.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	metrics.Register()

	gateway := opts.Gateway
	if gateway == nil {
		gateway = ledger.NewRPCClient(cfg.Ledger.RPCURL, opts.Secrets.LedgerToken)
	}
	indexer := opts.Indexer
	if indexer == nil {
		indexer = ledger.NewIndexerClient(cfg.Ledger.IndexerURL, cfg.Ledger.PageLimit)
	}

	var notifier *notify.Notifier
	sender := opts.Sender
	if sender == nil && cfg.Mail.Enabled {
		sender = notify.SMTPSender{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.Username,
			Password: opts.Secrets.SMTPPassword,
			From:     cfg.Mail.From,
		}
	}
	if sender != nil {
		notifier = notify.New(sender, logger.With("component", "notify"))
	}

	var bytecode []byte
	if path := cfg.Escrow.BytecodePath; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(opts.Workspace, path)
		}
		if bytecode, err = escrow.LoadBytecode(path); err != nil {
			// Assignments fail until the bytecode is available; everything else works.
			logger.Warn("escrow bytecode unavailable", "path", path, "err", err)
		}
	}

	res := resolver.New(indexer, cfg.Resolver.Attempts, cfg.Resolver.Interval, logger.With("component", "resolver"))
	if opts.ResolverSleep != nil {
		res.Sleep = opts.ResolverSleep
	}
	r := repo.Repo{DB: conn}
	eng := engine.New(conn, cfg)
	eng.Logger = logger.With("component", "engine")
	orch := &escrow.Orchestrator{
		Repo:     r,
		Events:   eng.Events,
		Gateway:  gateway,
		Resolver: res,
		Builder:  eng.Builder,
		Notifier: notifier,
		Config:   cfg,
		Bytecode: bytecode,
		Logger:   logger.With("component", "escrow"),
	}
	rep := &replicator.Replicator{
		Indexer: indexer,
		Repo:    r,
		Channels: replicator.Channels{
			Profile: cfg.Channels.Profile,
			Gig:     cfg.Channels.Gig,
			Message: cfg.Channels.Message,
		},
		Logger: logger.With("component", "replicator"),
	}
	return &App{
		DB:         conn,
		Config:     cfg,
		Secrets:    opts.Secrets,
		Engine:     eng,
		Escrow:     orch,
		Replicator: rep,
		Notifier:   notifier,
		Logger:     logger,
	}, nil
}

// Handler builds the HTTP API.
func (a *App) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:         a.Engine,
		Escrow:         a.Escrow,
		Replicator:     a.Replicator,
		BasePath:       a.Config.Server.BasePath,
		Auth:           server.AuthConfig{JWTSecret: a.Secrets.JWTSecret},
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		RateLimit: server.RateLimit{
			RequestsPerMinute: a.Config.Server.RequestsPerMinute,
			Burst:             a.Config.Server.Burst,
		},
		Logger: a.Logger.With("component", "http"),
	})
}

// Serve runs the HTTP API and the replay worker until ctx ends.
func (a *App) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.Config.Server.Addr
	}
	handler, err := a.Handler()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker := &replicator.Worker{
		Replicator: a.Replicator,
		Interval:   a.Config.Sync.Interval,
		OnStartup:  a.Config.Sync.OnStartup,
		Logger:     a.Logger.With("component", "replay-worker"),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		srv.Shutdown(shutdownCtx)
	}()
	a.Logger.Info("serving gigledger API", "addr", addr, "base_path", a.Config.Server.BasePath)
	err = srv.ListenAndServe()
	cancel()
	<-done
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close waits for pending notifications and closes the database.
func (a *App) Close() error {
	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	return a.DB.Close()
}
