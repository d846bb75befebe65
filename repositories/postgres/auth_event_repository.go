package postgres

import (
	"context"
	"fmt"

	"github.com/windfire/security-auth/models"
	"github.com/windfire/security-auth/repositories"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

const authEventsSchema = `
	CREATE TABLE IF NOT EXISTS auth_events (
		id UUID PRIMARY KEY,
		action VARCHAR(64) NOT NULL,
		service VARCHAR(255) NOT NULL,
		subject VARCHAR(255),
		outcome VARCHAR(16) NOT NULL,
		reason VARCHAR(255),
		request_id VARCHAR(255),
		timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_auth_events_service ON auth_events(service);
	CREATE INDEX IF NOT EXISTS idx_auth_events_timestamp ON auth_events(timestamp DESC);
`

// AuthEventRepository implements repositories.AuthEventRepository
type AuthEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuthEventRepository creates a new audit event repository
func NewAuthEventRepository(db *DB, logger *zap.Logger) repositories.AuthEventRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthEventRepository{
		db:     db,
		logger: logger,
	}
}

// InitSchema creates the auth_events table
func (r *AuthEventRepository) InitSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, authEventsSchema); err != nil {
		return fmt.Errorf("failed to initialize auth_events schema: %w", err)
	}
	r.logger.Info("audit schema initialized")
	return nil
}

// Insert inserts a new audit event
func (r *AuthEventRepository) Insert(ctx context.Context, event *models.AuthEvent) error {
	query := `
		INSERT INTO auth_events (
			id, action, service, subject, outcome, reason, request_id, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Action,
		event.Service,
		event.Subject,
		event.Outcome,
		event.Reason,
		event.RequestID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}

	r.logger.Debug("auth event inserted",
		zap.String("id", event.ID.String()),
		zap.String("action", string(event.Action)))
	return nil
}

// ListRecent returns the newest events first. An empty service lists all.
func (r *AuthEventRepository) ListRecent(ctx context.Context, service string, limit int) ([]*models.AuthEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `
		SELECT id, action, service, COALESCE(subject, ''), outcome,
		       COALESCE(reason, ''), COALESCE(request_id, ''), timestamp
		FROM auth_events
		WHERE ($1 = '' OR service = $1)
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, service, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query auth events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuthEvent
	for rows.Next() {
		event := &models.AuthEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.Action,
			&event.Service,
			&event.Subject,
			&event.Outcome,
			&event.Reason,
			&event.RequestID,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auth events: %w", err)
	}

	return events, nil
}
