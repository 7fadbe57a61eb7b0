// Command authcore-server serves the authentication endpoints over HTTP.
//
// Configuration is read from AUTHCORE_* environment variables. Without
// AUTHCORE_DATABASE_URL users are kept in memory, and without
// AUTHCORE_SMTP_HOST reset mail is written to the log; both fallbacks are
// refused when AUTHCORE_PRODUCTION is set.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/httpapi"
	"github.com/MrEthical07/authcore/mail"
	authprom "github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/MrEthical07/authcore/store/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("authcore-server exited")
	}
}

func run(logger *logrus.Logger) error {
	srv := loadServerConfig()
	if err := configureLogger(logger, srv); err != nil {
		return err
	}

	cfg, err := authcore.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: srv.RedisAddr, Password: srv.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	store, db, err := openStore(ctx, srv, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	mailer, err := newMailer(srv, cfg, logger)
	if err != nil {
		return err
	}

	builder := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(store).
		WithMailer(mailer).
		WithLogger(logger)
	if cfg.Audit.Enabled {
		builder = builder.WithAuditSink(authcore.NewLogrusSink(logger.WithField("component", "audit")))
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := authprom.Register(reg, engine); err != nil {
		return err
	}

	server := &http.Server{
		Addr: srv.ListenAddr,
		Handler: httpapi.NewRouter(engine, httpapi.Options{
			Logger:   logger,
			Registry: reg,
			Ready:    func(r *http.Request) error { return rdb.Ping(r.Context()).Err() },
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.ListenAddr).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func configureLogger(logger *logrus.Logger, srv serverConfig) error {
	level, err := logrus.ParseLevel(srv.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)
	if srv.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}

func openStore(ctx context.Context, srv serverConfig, cfg authcore.Config, logger logrus.FieldLogger) (authcore.UserStore, *sql.DB, error) {
	if srv.DatabaseURL == "" {
		if cfg.Security.ProductionMode {
			return nil, nil, errors.New("AUTHCORE_DATABASE_URL is required in production")
		}
		logger.Warn("no database configured; users are kept in memory")
		return memory.New(), nil, nil
	}

	db, err := postgres.Open(ctx, srv.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return postgres.New(db), db, nil
}

func newMailer(srv serverConfig, cfg authcore.Config, logger logrus.FieldLogger) (authcore.Mailer, error) {
	if srv.SMTP.Host == "" {
		if cfg.Security.ProductionMode {
			return nil, errors.New("AUTHCORE_SMTP_HOST is required in production")
		}
		logger.Warn("no SMTP relay configured; reset mail is written to the log")
		return mail.NewLogMailer(logger), nil
	}
	return mail.NewSMTPMailer(srv.SMTP)
}
