package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/windfire/security-auth/models"
	"github.com/windfire/security-auth/utils"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AdminService is the subset of services.AuthService behind /v1/admin
type AdminService interface {
	Services() []string
	Reload(ctx context.Context) ([]string, error)
	RecentEvents(ctx context.Context, service string, limit int) ([]*models.AuthEvent, error)
}

// ReloadResponse lists the services active after a reload
type ReloadResponse struct {
	Services []string `json:"services"`
}

// AdminHandler serves operator endpoints
type AdminHandler struct {
	service AdminService
	logger  *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		service: service,
		logger:  logger,
	}
}

// HandleReload handles POST /v1/admin/reload
func (h *AdminHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.Reload(r.Context())
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	h.logger.Info("service registry reloaded via admin endpoint", zap.Strings("services", names))
	_ = utils.WriteOK(w, ReloadResponse{Services: names})
}

// HandleListServices handles GET /v1/admin/services
func (h *AdminHandler) HandleListServices(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, ReloadResponse{Services: h.service.Services()})
}

// HandleListAuditEvents handles GET /v1/admin/audit?service=&limit=
func (h *AdminHandler) HandleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := defaultAuditLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = utils.WriteBadRequest(w, r, "limit must be a positive integer", nil)
			return
		}
		if n > maxAuditLimit {
			n = maxAuditLimit
		}
		limit = n
	}

	events, err := h.service.RecentEvents(r.Context(), strings.TrimSpace(query.Get("service")), limit)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	if events == nil {
		events = []*models.AuthEvent{}
	}

	_ = utils.WriteOK(w, events)
}
