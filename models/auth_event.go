package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthAction identifies the authentication operation being audited
type AuthAction string

const (
	AuthActionPasswordGrant    AuthAction = "password_grant"
	AuthActionServiceGrant     AuthAction = "client_credentials_grant"
	AuthActionRefresh          AuthAction = "refresh"
	AuthActionLogout           AuthAction = "logout"
	AuthActionVerifyLocal      AuthAction = "verify_local"
	AuthActionVerifyIntrospect AuthAction = "verify_introspect"
	AuthActionIntrospect       AuthAction = "introspect"
	AuthActionUserInfo         AuthAction = "userinfo"
	AuthActionReload           AuthAction = "registry_reload"
)

// AuthOutcome is the result of an audited operation
type AuthOutcome string

const (
	AuthOutcomeSuccess AuthOutcome = "success"
	AuthOutcomeFailure AuthOutcome = "failure"
)

// AuthEvent is one entry of the authentication audit trail.
// Tokens, passwords and client secrets are never stored.
type AuthEvent struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	Action    AuthAction  `json:"action" db:"action"`
	Service   string      `json:"service" db:"service"`
	Subject   string      `json:"subject,omitempty" db:"subject"` // username or client_id
	Outcome   AuthOutcome `json:"outcome" db:"outcome"`
	Reason    string      `json:"reason,omitempty" db:"reason"` // error kind on failure
	RequestID string      `json:"request_id,omitempty" db:"request_id"`
	Timestamp time.Time   `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuthEvent model
func (AuthEvent) TableName() string {
	return "auth_events"
}

// NewAuthEvent creates a successful AuthEvent for the given service
func NewAuthEvent(action AuthAction, service string) *AuthEvent {
	return &AuthEvent{
		ID:        uuid.New(),
		Action:    action,
		Service:   service,
		Outcome:   AuthOutcomeSuccess,
		Timestamp: time.Now().UTC(),
	}
}

// WithSubject sets the authenticated subject
func (e *AuthEvent) WithSubject(subject string) *AuthEvent {
	e.Subject = subject
	return e
}

// WithRequest sets the request ID
func (e *AuthEvent) WithRequest(requestID string) *AuthEvent {
	e.RequestID = requestID
	return e
}

// WithFailure marks the event failed with a short reason
func (e *AuthEvent) WithFailure(reason string) *AuthEvent {
	e.Outcome = AuthOutcomeFailure
	e.Reason = reason
	return e
}
