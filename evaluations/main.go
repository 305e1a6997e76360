package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/verdict-labs/verdict-go/internal/dataset"
	"github.com/verdict-labs/verdict-go/internal/dispatch"
	"github.com/verdict-labs/verdict-go/internal/platform/auth"
	"github.com/verdict-labs/verdict-go/internal/platform/env"
	"github.com/verdict-labs/verdict-go/internal/platform/httpserver"
	"github.com/verdict-labs/verdict-go/internal/platform/objectstore"
	"github.com/verdict-labs/verdict-go/internal/platform/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("EVALUATIONS_HTTP_ADDR", ":8084")
	shutdownTimeout, err := env.Duration("EVALUATIONS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	runTTL, err := env.Duration("EVALUATIONS_RUN_TTL", time.Hour)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	dispatchDefault, err := env.Bool("DISPATCH_ENABLED_DEFAULT", true)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	loader, err := dataset.NewObjectLoader(storeClient, storeCfg.BucketDatasets)
	if err != nil {
		logger.Error("dataset loader init failed", "error", err)
		os.Exit(2)
	}

	flags := dispatch.DBFlags{DB: db, Log: logger, Default: dispatchDefault}
	transport := env.String("DISPATCH_TRANSPORT", "ledger")

	var natsConn *nats.Conn
	var dispatcher *dispatch.Dispatcher
	switch transport {
	case "ledger":
		sender, err := dispatch.NewLedgerSender(db)
		if err != nil {
			logger.Error("ledger sender init failed", "error", err)
			os.Exit(2)
		}
		dispatcher = dispatch.New(sender, flags, logger)
	case "nats":
		natsConn, err = nats.Connect(env.String("NATS_URL", nats.DefaultURL), nats.Name("evaluations"))
		if err != nil {
			logger.Error("nats unavailable", "error", err)
			os.Exit(1)
		}
		defer natsConn.Close()
		sender, err := dispatch.NewNATSSender(natsConn, env.String("DISPATCH_NATS_SUBJECT_PREFIX", ""))
		if err != nil {
			logger.Error("nats sender init failed", "error", err)
			os.Exit(2)
		}
		dispatcher = dispatch.New(sender, flags, logger)
	case "off":
		dispatcher = dispatch.Noop()
	default:
		logger.Error("invalid DISPATCH_TRANSPORT", "value", transport)
		os.Exit(2)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Close(closeCtx)
	}()

	internalAuthSecret := env.String("VERDICT_INTERNAL_AUTH_SECRET", "")
	headersAuth, err := auth.NewGatewayHeadersAuthenticator(internalAuthSecret)
	if err != nil {
		logger.Error("invalid internal auth config", "error", err)
		os.Exit(2)
	}

	manager := newRunManager(ctx, logger, dispatcher, loader, runTTL)
	go manager.janitor(ctx)

	checks := []httpserver.ReadinessCheck{
		{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		},
		{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
			},
		},
	}
	if natsConn != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "nats",
			Check: func(context.Context) error {
				if !natsConn.IsConnected() {
					return errors.New("nats disconnected")
				}
				return nil
			},
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("evaluations"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("evaluations", checks...))

	api := newEvaluationsAPI(logger, manager)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: headersAuth,
		Authorize:     auth.MethodRoleAuthorizer(),
		SkipPrefixes:  []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "evaluations",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "evaluations", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
