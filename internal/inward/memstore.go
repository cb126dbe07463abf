package inward

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/cylinder-portal/model"
)

// MemorySessionStore is an in-memory SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]model.InwardSession // key: session ID
	events   map[string][]model.InwardEvent // key: session ID
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]model.InwardSession),
		events:   make(map[string][]model.InwardEvent),
	}
}

// Create persists a new session.
func (s *MemorySessionStore) Create(_ context.Context, sess model.InwardSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("inward session %q already exists", sess.ID),
		)
	}

	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

// Get retrieves a session by ID, scoped to plant.
func (s *MemorySessionStore) Get(_ context.Context, plantID, sessionID string) (model.InwardSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.PlantID != plantID {
		return model.InwardSession{}, model.NewNotFoundError(
			fmt.Sprintf("inward session %q not found", sessionID),
		)
	}
	return cloneSession(sess), nil
}

// Update persists an updated session with optimistic locking.
func (s *MemorySessionStore) Update(_ context.Context, sess model.InwardSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.sessions[sess.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("inward session %q not found", sess.ID),
		)
	}

	if existing.Version != sess.Version {
		return model.NewConflictError(
			fmt.Sprintf("inward session %q version conflict (expected %d, got %d)", sess.ID, sess.Version, existing.Version),
		)
	}

	sess.Version++
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

// AppendEvent adds an event to the session's audit trail.
func (s *MemorySessionStore) AppendEvent(_ context.Context, event model.InwardEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	return nil
}

// GetEvents retrieves all events for a session, ordered by timestamp.
func (s *MemorySessionStore) GetEvents(_ context.Context, plantID, sessionID string) ([]model.InwardEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.PlantID != plantID {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("inward session %q not found", sessionID),
		)
	}

	events := s.events[sessionID]
	result := make([]model.InwardEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// FindActive returns active sessions for a plant.
func (s *MemorySessionStore) FindActive(_ context.Context, plantID string, filters SessionFilters) ([]model.InwardSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.InwardSession
	for _, sess := range s.sessions {
		if sess.PlantID != plantID {
			continue
		}
		if sess.Status != model.SessionStatusActive {
			continue
		}
		if filters.OperatorID != "" && sess.OperatorID != filters.OperatorID {
			continue
		}
		result = append(result, cloneSession(sess))
	}

	// Newest first; ID breaks ties so paging is stable.
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.InwardSession{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, nil
}

// Len returns the total number of sessions. For testing.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func cloneSession(sess model.InwardSession) model.InwardSession {
	sess.Record = sess.Record.Clone()
	return sess
}
