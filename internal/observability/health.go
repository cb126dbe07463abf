package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// Check statuses.
const (
	CheckOK       = "ok"
	CheckError    = "error"
	CheckDegraded = "degraded"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the readiness body. Status is "ready", "degraded"
// (an advisory dependency is failing) or "not_ready".
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks lists the portal's dependencies. Nil checkers are skipped,
// except the dashboard, which must have produced a snapshot.
type ReadinessChecks struct {
	DashboardReady   func() bool
	InwardStore      HealthChecker
	IdempotencyStore HealthChecker
	// OrderSource is advisory: the catalog keeps serving known orders while
	// the ERP link is down.
	OrderSource HealthChecker
}

var errDashboardStale = errors.New("dashboard not refreshed yet")

type namedCheck struct {
	name     string
	advisory bool
	run      func(context.Context) error
}

func (c ReadinessChecks) list() []namedCheck {
	checks := []namedCheck{{
		name: "dashboard",
		run: func(context.Context) error {
			if c.DashboardReady == nil || !c.DashboardReady() {
				return errDashboardStale
			}
			return nil
		},
	}}
	if c.InwardStore != nil {
		checks = append(checks, namedCheck{name: "inward_store", run: c.InwardStore.HealthCheck})
	}
	if c.IdempotencyStore != nil {
		checks = append(checks, namedCheck{name: "idempotency_store", run: c.IdempotencyStore.HealthCheck})
	}
	if c.OrderSource != nil {
		checks = append(checks, namedCheck{name: "order_source", advisory: true, run: c.OrderSource.HealthCheck})
	}
	return checks
}

const checkTimeout = 2 * time.Second

// HandleHealth serves the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:  CheckOK,
			Service: ServiceName,
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady serves the readiness endpoint. Checks run concurrently, each
// bounded by its own timeout.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := checks.list()
		results := make(map[string]CheckResult, len(list))
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, c := range list {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := runCheck(r.Context(), c.run)
				if c.advisory && res.Status == CheckError {
					res.Status = CheckDegraded
				}
				mu.Lock()
				results[c.name] = res
				mu.Unlock()
			}()
		}
		wg.Wait()

		status, code := "ready", http.StatusOK
		for _, res := range results {
			switch res.Status {
			case CheckError:
				status, code = "not_ready", http.StatusServiceUnavailable
			case CheckDegraded:
				if code == http.StatusOK {
					status = "degraded"
				}
			}
		}

		writeHealthJSON(w, code, ReadinessResponse{Status: status, Checks: results})
	}
}

func runCheck(parent context.Context, check func(context.Context) error) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	res := CheckResult{Status: CheckOK, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = CheckError
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
