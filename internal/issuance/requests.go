package issuance

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/cylinder-portal/model"
)

// RequestRepository stores cylinder requests raised by departments.
type RequestRepository interface {
	// List returns requests whose status is one of statuses, oldest first.
	// With no statuses every request is returned.
	List(ctx context.Context, statuses ...model.RequestStatus) ([]model.CylinderRequest, error)

	// Get returns a request by ID. Returns NOT_FOUND if it doesn't exist.
	Get(ctx context.Context, id string) (model.CylinderRequest, error)

	// Complete marks an open request Completed. Returns REQUEST_CLOSED if
	// the request is no longer open.
	Complete(ctx context.Context, id string, at time.Time) (model.CylinderRequest, error)
}

// MemoryRequestRepository is an in-memory RequestRepository.
type MemoryRequestRepository struct {
	mu       sync.RWMutex
	requests map[string]model.CylinderRequest
}

// NewMemoryRequestRepository creates a repository seeded with requests.
// Requests with an empty status are stored as Pending.
func NewMemoryRequestRepository(seed []model.CylinderRequest) *MemoryRequestRepository {
	r := &MemoryRequestRepository{requests: make(map[string]model.CylinderRequest, len(seed))}
	for _, req := range seed {
		if req.Status == "" {
			req.Status = model.RequestPending
		}
		r.requests[req.ID] = req
	}
	return r
}

// List returns requests filtered by status, oldest first.
func (r *MemoryRequestRepository) List(_ context.Context, statuses ...model.RequestStatus) ([]model.CylinderRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.CylinderRequest, 0, len(r.requests))
	for _, req := range r.requests {
		if len(statuses) > 0 && !slices.Contains(statuses, req.Status) {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

// Get returns a request by ID.
func (r *MemoryRequestRepository) Get(_ context.Context, id string) (model.CylinderRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return model.CylinderRequest{}, model.NewNotFoundError(fmt.Sprintf("cylinder request %q not found", id))
	}
	return req, nil
}

// Complete marks an open request Completed.
func (r *MemoryRequestRepository) Complete(_ context.Context, id string, at time.Time) (model.CylinderRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return model.CylinderRequest{}, model.NewNotFoundError(fmt.Sprintf("cylinder request %q not found", id))
	}
	if !req.Status.Open() {
		return model.CylinderRequest{}, model.NewRequestClosedError(
			fmt.Sprintf("cylinder request %q is %s", id, req.Status),
		)
	}
	req.Status = model.RequestCompleted
	req.CompletedAt = &at
	r.requests[id] = req
	return req, nil
}
