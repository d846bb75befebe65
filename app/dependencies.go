package app

import (
	"context"
	"fmt"
	"time"

	"github.com/windfire/security-auth/config"
	"github.com/windfire/security-auth/internal/observability"
	"github.com/windfire/security-auth/keycloak"
	"github.com/windfire/security-auth/registry"
	"github.com/windfire/security-auth/repositories"
	"github.com/windfire/security-auth/repositories/postgres"
	"github.com/windfire/security-auth/services"
	"github.com/windfire/security-auth/services/audit"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	AuditDB *postgres.DB // nil when the audit trail is disabled
	Metrics *observability.Metrics

	// Domain
	Registry    *registry.Registry
	Keycloak    keycloak.Config
	AuditEvents repositories.AuthEventRepository
	Recorder    *audit.Recorder
	AuthService *services.AuthService
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	if err := deps.initRegistry(cfg); err != nil {
		return nil, fmt.Errorf("failed to load service registry: %w", err)
	}

	if err := deps.initAudit(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize audit trail: %w", err)
	}

	deps.initAuthService(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Int("services", deps.Registry.Len()),
		zap.Bool("metrics_enabled", deps.Metrics != nil),
		zap.Bool("audit_enabled", deps.Recorder.Enabled()))
	return deps, nil
}

// initRegistry loads the service definition file
func (d *Dependencies) initRegistry(cfg *config.Config) error {
	reg, err := registry.Load(registry.Config{
		Path:   cfg.Registry.ServicesFile,
		Logger: d.Logger,
	})
	if err != nil {
		return err
	}
	d.Registry = reg
	return nil
}

// initAudit connects the optional audit database and starts the recorder
func (d *Dependencies) initAudit(ctx context.Context, cfg *config.Config) error {
	if cfg.AuditDatabase == nil {
		d.Logger.Info("AUDIT_DATABASE_URL not set, audit trail disabled")
		d.Recorder = audit.NewRecorder(nil, d.Logger, audit.DefaultConfig())
		return nil
	}

	db, err := postgres.NewDB(*cfg.AuditDatabase, d.Logger)
	if err != nil {
		return err
	}
	d.AuditDB = db

	repo := postgres.NewAuthEventRepository(db, d.Logger)
	if err := repo.InitSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	d.AuditEvents = repo

	d.Recorder = audit.NewRecorder(repo, d.Logger, audit.DefaultConfig())
	return d.Recorder.Start()
}

func (d *Dependencies) initAuthService(cfg *config.Config) {
	d.Keycloak = keycloak.Config{
		BaseURL:        cfg.Keycloak.ServerURL,
		HTTPTimeout:    cfg.Keycloak.HTTPTimeout,
		Logger:         d.Logger,
		StrictAudience: cfg.Keycloak.StrictAudience,
		JWKSCache:      keycloak.NewJWKSCache(cfg.Keycloak.JWKSCacheTTL),
	}

	d.AuthService = services.NewAuthService(
		d.Registry,
		d.Keycloak,
		cfg.Keycloak.VerifyMethod,
		d.Metrics,
		d.Recorder,
		d.Logger,
	)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if d.Recorder.Enabled() {
		if err := d.Recorder.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit recorder: %w", err))
		}
	}

	if d.AuditDB != nil {
		if err := d.AuditDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit database: %w", err))
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
