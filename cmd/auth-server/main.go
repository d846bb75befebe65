package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/windfire/security-auth/app"
	"github.com/windfire/security-auth/config"
	"github.com/windfire/security-auth/internal/observability"
	"github.com/windfire/security-auth/routes"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	cfg, err := config.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("auth server stopped", zap.Error(err))
	}
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return nil, err
	}
	return withApp(logger, cfg), nil
}

// withApp tags process logs with the application name. The "service" key is
// left to the per-request registry service name.
func withApp(logger *zap.Logger, cfg *config.Config) *zap.Logger {
	return logger.With(zap.String("app", cfg.AppName))
}

// listener describes where and how the server accepts connections
type listener struct {
	Addr     string
	CertFile string
	KeyFile  string
}

func (l listener) TLS() bool {
	return l.CertFile != ""
}

// planListener serves HTTPS on the secure port when HTTPS is enforced and a
// certificate pair is configured. A configured but missing file is fatal.
// Everything else serves plain HTTP.
func planListener(server config.ServerConfig, logger *zap.Logger) (listener, error) {
	if server.EnforceHTTPS && server.TLSConfigured() {
		if _, err := os.Stat(server.TLS.KeyFile); err != nil {
			return listener{}, fmt.Errorf("SSL key file not found: %s", server.TLS.KeyFile)
		}
		if _, err := os.Stat(server.TLS.CertFile); err != nil {
			return listener{}, fmt.Errorf("SSL certificate file not found: %s", server.TLS.CertFile)
		}
		return listener{
			Addr:     server.SecureAddress(),
			CertFile: server.TLS.CertFile,
			KeyFile:  server.TLS.KeyFile,
		}, nil
	}

	if server.EnforceHTTPS {
		logger.Warn("ENFORCE_HTTPS is enabled but no SSL certificates are configured; set SSL_KEYFILE and SSL_CERTFILE or terminate TLS upstream")
	}
	logger.Warn("running without TLS, not recommended for production")
	return listener{Addr: server.Address()}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("keycloak_server_url", cfg.Keycloak.ServerURL),
		zap.String("services_file", cfg.Registry.ServicesFile),
		zap.Bool("enforce_https", cfg.Server.EnforceHTTPS),
		zap.Strings("allowed_hosts", cfg.Server.AllowedHosts),
		zap.String("verify_method", cfg.Keycloak.VerifyMethod))

	plan, err := planListener(cfg.Server, logger)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	srv := &http.Server{
		Addr:         plan.Addr,
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if plan.TLS() {
			logger.Info("starting server with HTTPS", zap.String("addr", plan.Addr))
			err = srv.ListenAndServeTLS(plan.CertFile, plan.KeyFile)
		} else {
			logger.Info("starting server with HTTP", zap.String("addr", plan.Addr))
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case err, ok := <-errCh:
			if ok {
				_ = deps.Close(ctx)
				return fmt.Errorf("server error: %w", err)
			}
			return deps.Close(ctx)

		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if _, err := deps.AuthService.Reload(ctx); err != nil {
					logger.Error("service registry reload failed", zap.Error(err))
				}
				continue
			}
			logger.Info("shutting down", zap.String("signal", sig.String()))
			return shutdown(srv, deps, cfg.Server.ShutdownTimeout)
		}
	}
}

func shutdown(srv *http.Server, deps *app.Dependencies, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := deps.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
