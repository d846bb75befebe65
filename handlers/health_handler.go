package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/windfire/security-auth/services/audit"
	"github.com/windfire/security-auth/utils"
	"go.uber.org/zap"
)

// ServiceCounter reports how many services are configured
type ServiceCounter interface {
	Len() int
}

// AuditStatsProvider reports the state of the audit recorder
type AuditStatsProvider interface {
	Stats() audit.Stats
}

// HealthResponse is the liveness body
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Audit     *AuditReadiness   `json:"audit,omitempty"`
}

// AuditReadiness reports the audit recorder queue and connection pool
type AuditReadiness struct {
	Recorder audit.Stats `json:"recorder"`
	Pool     *PoolStats  `json:"pool,omitempty"`
}

// PoolStats is the subset of sql.DBStats exposed on readiness
type PoolStats struct {
	MaxOpenConnections int   `json:"max_open_connections"`
	OpenConnections    int   `json:"open_connections"`
	InUse              int   `json:"in_use"`
	Idle               int   `json:"idle"`
	WaitCount          int64 `json:"wait_count"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	appName  string
	services ServiceCounter
	db       *sql.DB
	recorder AuditStatsProvider
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and recorder are nil when
// the audit trail is disabled.
func NewHealthHandler(appName string, services ServiceCounter, db *sql.DB, recorder AuditStatsProvider, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		appName:  appName,
		services: services,
		db:       db,
		recorder: recorder,
		logger:   logger,
	}
}

// HandleHealth handles GET /v1/monitor/health
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: h.appName,
	})
}

// HandleReadiness handles GET /v1/monitor/ready
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if n := h.services.Len(); n == 0 {
		checks["registry"] = "no services configured"
		allHealthy = false
	} else {
		checks["registry"] = strconv.Itoa(n) + " services"
	}

	switch err := h.checkDatabase(ctx); {
	case h.db == nil:
		checks["audit_database"] = "disabled"
	case err != nil:
		h.logger.Warn("audit database health check failed", zap.Error(err))
		checks["audit_database"] = "unhealthy"
		allHealthy = false
	default:
		checks["audit_database"] = "healthy"
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Audit:     h.auditReadiness(),
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) auditReadiness() *AuditReadiness {
	if h.recorder == nil && h.db == nil {
		return nil
	}

	report := &AuditReadiness{}
	if h.recorder != nil {
		report.Recorder = h.recorder.Stats()
	}
	if h.db != nil {
		stats := h.db.Stats()
		report.Pool = &PoolStats{
			MaxOpenConnections: stats.MaxOpenConnections,
			OpenConnections:    stats.OpenConnections,
			InUse:              stats.InUse,
			Idle:               stats.Idle,
			WaitCount:          stats.WaitCount,
		}
	}
	return report
}

// checkDatabase checks audit database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
