package inward

import (
	"context"

	"github.com/pitabwire/cylinder-portal/model"
)

// SessionStore persists inward sessions and their audit events.
type SessionStore interface {
	// Create persists a new session.
	Create(ctx context.Context, session model.InwardSession) error

	// Get retrieves a session by ID, scoped to a plant. Returns NOT_FOUND if
	// the session doesn't exist or belongs to a different plant.
	Get(ctx context.Context, plantID, sessionID string) (model.InwardSession, error)

	// Update persists an updated session with optimistic locking. The
	// version must match the current stored version. Returns CONFLICT if
	// the version has changed.
	Update(ctx context.Context, session model.InwardSession) error

	// AppendEvent adds an event to the session's audit trail.
	AppendEvent(ctx context.Context, event model.InwardEvent) error

	// GetEvents retrieves all events for a session, scoped to a plant.
	GetEvents(ctx context.Context, plantID, sessionID string) ([]model.InwardEvent, error)

	// FindActive returns active sessions for a plant, newest first.
	FindActive(ctx context.Context, plantID string, filters SessionFilters) ([]model.InwardSession, error)
}

// SessionFilters are optional filters for listing sessions.
type SessionFilters struct {
	OperatorID string
	Limit      int
	Offset     int
}
