package repositories

import (
	"context"

	"github.com/windfire/security-auth/models"
)

// AuthEventRepository persists the authentication audit trail
type AuthEventRepository interface {
	// InitSchema creates the audit table and indexes if they do not exist
	InitSchema(ctx context.Context) error

	// Insert stores a single audit event
	Insert(ctx context.Context, event *models.AuthEvent) error

	// ListRecent returns the newest events first, optionally filtered by service
	ListRecent(ctx context.Context, service string, limit int) ([]*models.AuthEvent, error)
}
