// Package integration provides a reusable test harness for end-to-end
// integration testing of the cylinder portal server. It starts a full HTTP
// server with in-memory stores, seeded plant data, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/cylinder-portal/internal/config"
	"github.com/pitabwire/cylinder-portal/internal/dashboard"
	"github.com/pitabwire/cylinder-portal/internal/inventory"
	"github.com/pitabwire/cylinder-portal/internal/inward"
	"github.com/pitabwire/cylinder-portal/internal/issuance"
	"github.com/pitabwire/cylinder-portal/internal/observability"
	"github.com/pitabwire/cylinder-portal/internal/procurement"
	"github.com/pitabwire/cylinder-portal/internal/report"
	"github.com/pitabwire/cylinder-portal/internal/transport"
	"github.com/pitabwire/cylinder-portal/model"
)

// TestHarness encapsulates a fully wired portal instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Ledger           *inventory.Ledger
	Inward           *inward.Service
	Shipments        *inward.MemoryShipmentRecorder
	Desk             *issuance.Desk
	IdempotencyStore issuance.IdempotencyStore
	Catalog          *procurement.Catalog
	Dashboard        *dashboard.Refresher
	Feed             *dashboard.Feed
	Metrics          *observability.Metrics
	Registry         *prometheus.Registry
	Redis            *miniredis.Miniredis

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	stock          []model.StockLevel
	requests       []model.CylinderRequest
	orders         []model.PurchaseOrder
	lowStockPct    float64
	redis          bool
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithStock replaces the seeded stock levels.
func WithStock(levels ...model.StockLevel) HarnessOption {
	return func(c *harnessConfig) {
		c.stock = levels
	}
}

// WithRequests replaces the seeded cylinder requests.
func WithRequests(reqs ...model.CylinderRequest) HarnessOption {
	return func(c *harnessConfig) {
		c.requests = reqs
	}
}

// WithLowStockThreshold sets the low-stock percentage.
func WithLowStockThreshold(pct float64) HarnessOption {
	return func(c *harnessConfig) {
		c.lowStockPct = pct
	}
}

// WithRedisIdempotency backs the issue desk's idempotency store with an
// in-process Redis server.
func WithRedisIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.redis = true
	}
}

// NewTestHarness builds the portal with in-memory stores and starts it on
// an httptest server.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		stock:          DefaultStock(),
		requests:       DefaultRequests(),
		orders:         DefaultOrders(),
		lowStockPct:    25,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Step 1: Metrics on a private registry so harnesses do not collide.
	h.Registry = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Registry)
	h.Feed = dashboard.NewFeed(20)

	// Step 2: Stock ledger.
	h.Ledger = inventory.NewLedger(hc.stock, hc.lowStockPct,
		inventory.WithObserver(h.Metrics),
		inventory.WithObserver(h.Feed),
	)

	// Step 3: Material inward.
	h.Shipments = inward.NewMemoryShipmentRecorder()
	h.Inward = inward.NewService(inward.NewMemorySessionStore(), h.Shipments,
		inward.WithStockLedger(h.Ledger),
		inward.WithObserver(h.Metrics),
		inward.WithObserver(h.Feed),
	)

	// Step 4: Issue desk.
	readiness := observability.ReadinessChecks{}
	if hc.redis {
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { client.Close() })
		store := issuance.NewRedisIdempotencyStore(client)
		h.IdempotencyStore = store
		readiness.IdempotencyStore = store
	} else {
		h.IdempotencyStore = issuance.NewMemoryIdempotencyStore()
	}
	h.Desk = issuance.NewDesk(issuance.NewMemoryRequestRepository(hc.requests), h.Ledger,
		issuance.WithIdempotencyStore(h.IdempotencyStore, time.Hour),
		issuance.WithObserver(h.Metrics),
		issuance.WithObserver(h.Feed),
	)

	// Step 5: Purchase orders.
	h.Catalog = procurement.NewCatalog(procurement.StaticSource(hc.orders), 48*time.Hour)
	if _, err := h.Catalog.Sync(context.Background()); err != nil {
		t.Fatalf("sync purchase orders: %v", err)
	}

	// Step 6: Dashboard, primed so readiness passes.
	h.Dashboard = dashboard.NewRefresher(h.Ledger, h.Catalog, h.Desk, time.Minute,
		dashboard.WithFeed(h.Feed),
		dashboard.WithObserver(h.Metrics),
	)
	h.Dashboard.Refresh(context.Background())
	readiness.DashboardReady = func() bool { return h.Dashboard.Snapshot().RefreshedAt != "" }

	// Step 7: JWT issuer and config.
	h.issuer = newTokenIssuer()

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()

	// Step 8: Router with the full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:         h.cfg,
		Authenticate:   transport.JWTAuthenticator(h.cfg.Identity, h.issuer.Secret()),
		Inward:         h.Inward,
		Desk:           h.Desk,
		Ledger:         h.Ledger,
		Catalog:        h.Catalog,
		Dashboard:      h.Dashboard,
		Reports:        report.NewExporter(h.Inward, h.Ledger, h.Desk),
		HealthHandler:  observability.HandleHealth(),
		ReadyHandler:   observability.HandleReady(readiness),
		MetricsHandler: promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{}),
	})

	// Step 9: Start test server.
	h.server = httptest.NewServer(h.Metrics.MetricsMiddleware(observability.TracingMiddleware(router)))
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// GenerateTokenWithSecret creates a JWT signed with the given key.
func (h *TestHarness) GenerateTokenWithSecret(claims TestClaims, secret []byte) string {
	return h.issuer.GenerateTokenWithSecret(claims, secret)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the error envelope code.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, expected int, code string) {
	t.Helper()
	var env struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, expected, &env)
	if env.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", env.Error.Code, code, env.Error.Message)
	}
}

// --- Default test claims ---

// StoreKeeperClaims returns TestClaims for a store keeper at plant-1.
func StoreKeeperClaims() TestClaims {
	return TestClaims{
		OperatorID: "op-keeper",
		PlantID:    "plant-1",
		Name:       "Store Keeper",
		Roles:      []string{model.RoleStoreKeeper},
	}
}

// SupervisorClaims returns TestClaims for a supervisor at plant-1.
func SupervisorClaims() TestClaims {
	return TestClaims{
		OperatorID: "op-super",
		PlantID:    "plant-1",
		Name:       "Shift Supervisor",
		Roles:      []string{model.RoleSupervisor},
	}
}

// OtherPlantClaims returns TestClaims for a store keeper at plant-2.
func OtherPlantClaims() TestClaims {
	return TestClaims{
		OperatorID: "op-remote",
		PlantID:    "plant-2",
		Name:       "Remote Keeper",
		Roles:      []string{model.RoleStoreKeeper},
	}
}

// --- Fixtures ---

// DefaultStock returns the seeded stock levels.
func DefaultStock() []model.StockLevel {
	return []model.StockLevel{
		{Gas: model.GasCO2, Full: 40, Empty: 20},
		{Gas: model.GasArgon, Full: 2, Empty: 18},
		{Gas: model.GasOxygen, Full: 30, Empty: 10},
	}
}

// DefaultRequests returns the seeded cylinder requests.
func DefaultRequests() []model.CylinderRequest {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	return []model.CylinderRequest{
		RequestFixture("REQ-001", "Welding", model.GasCO2, model.RequestPending, base),
		RequestFixture("REQ-002", model.DepartmentVendor, model.GasArgon, model.RequestInProgress, base.Add(time.Hour)),
		RequestFixture("REQ-003", "Fabrication", model.GasOxygen, model.RequestCompleted, base.Add(2*time.Hour)),
	}
}

// DefaultOrders returns the seeded purchase orders.
func DefaultOrders() []model.PurchaseOrder {
	issued := time.Now().Add(-96 * time.Hour)
	sent := time.Now().Add(-72 * time.Hour)
	return []model.PurchaseOrder{
		{Number: "PO-1001", Vendor: "Linde", Gas: model.GasCO2, Quantity: 50, Status: model.POStatusOpen, IssuedAt: issued},
		{Number: "PO-1002", Vendor: "Air Liquide", Gas: model.GasArgon, Quantity: 20, Status: model.POStatusSent, IssuedAt: issued, SentAt: &sent},
	}
}

// RequestFixture builds a cylinder request.
func RequestFixture(id, department string, gas model.GasType, status model.RequestStatus, at time.Time) model.CylinderRequest {
	return model.CylinderRequest{
		ID:          id,
		Department:  department,
		ItemsNeeded: fmt.Sprintf("%s cylinders", gas),
		Gas:         gas,
		Quantity:    2,
		Status:      status,
		Requester:   "requester-" + strings.ToLower(id),
		Priority:    "Normal",
		RequestedAt: at,
	}
}
