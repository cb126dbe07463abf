package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Operator roles recognised by the portal.
const (
	RoleStoreKeeper = "store_keeper"
	RoleSupervisor  = "supervisor"
	RoleAdmin       = "admin"
)

// RequestContext carries the authenticated operator, plant, and tracing
// information for the lifetime of a request. It is immutable after
// construction and safe for concurrent reads.
type RequestContext struct {
	OperatorID    string
	OperatorName  string
	Email         string
	PlantID       string
	Roles         []string
	Claims        map[string]any
	DeviceID      string
	CorrelationID string
	TraceID       string
}

// Validate checks that all mandatory fields are present.
// OperatorID and PlantID must be non-empty.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.OperatorID == "" {
		errs = append(errs, fmt.Errorf("OperatorID is required"))
	}
	if rc.PlantID == "" {
		errs = append(errs, fmt.Errorf("PlantID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the RequestContext contains the given role.
func (rc *RequestContext) HasRole(role string) bool {
	return slices.Contains(rc.Roles, role)
}

// Claim returns the value of the given claim key, or nil if not present.
func (rc *RequestContext) Claim(key string) any {
	if rc.Claims == nil {
		return nil
	}
	return rc.Claims[key]
}

// Actor returns the identifier recorded in audit trails for this operator.
func (rc *RequestContext) Actor() string {
	if rc == nil || rc.OperatorID == "" {
		return "system"
	}
	return rc.OperatorID
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context, panicking if
// it is not present. This is safe to call in handlers that are guaranteed to run
// behind the authentication middleware.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
