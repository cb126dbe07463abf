package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/cylinder-portal/internal/config"
	"github.com/pitabwire/cylinder-portal/internal/dashboard"
	"github.com/pitabwire/cylinder-portal/internal/inventory"
	"github.com/pitabwire/cylinder-portal/internal/inward"
	"github.com/pitabwire/cylinder-portal/internal/issuance"
	"github.com/pitabwire/cylinder-portal/internal/procurement"
	"github.com/pitabwire/cylinder-portal/internal/report"
	"github.com/pitabwire/cylinder-portal/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
// Nil services leave their routes unregistered.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Authenticate func(http.Handler) http.Handler

	Inward    *inward.Service
	Desk      *issuance.Desk
	Ledger    *inventory.Ledger
	Catalog   *procurement.Catalog
	Dashboard *dashboard.Refresher
	Reports   *report.Exporter

	HealthHandler  http.Handler
	ReadyHandler   http.Handler
	MetricsHandler http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(InjectLogger(deps.Logger))
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Method(http.MethodGet, "/health", orDefault(deps.HealthHandler, handleHealth))
	r.Method(http.MethodGet, "/ready", orDefault(deps.ReadyHandler, handleReady))
	r.Method(http.MethodGet, "/metrics", orDefault(deps.MetricsHandler, handleMetrics))

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)

		if svc := deps.Inward; svc != nil {
			r.Route("/inward", func(r chi.Router) {
				r.Post("/", handleInwardStart(svc))
				r.Get("/", handleInwardList(svc))
				r.Get("/shipments", handleShipmentList(svc))
				r.Get("/{sessionId}", handleInwardGet(svc))
				r.Put("/{sessionId}/arrival", handleInwardUpdate(svc.UpdateArrival))
				r.Put("/{sessionId}/weighing", handleInwardUpdate(svc.UpdateWeighing))
				r.Put("/{sessionId}/tally", handleInwardUpdate(svc.UpdateTally))
				r.Put("/{sessionId}/inspection", handleInwardUpdate(svc.UpdateInspection))
				r.Post("/{sessionId}/tags", handleInwardAddTag(svc))
				r.Delete("/{sessionId}/tags/{index}", handleInwardRemoveTag(svc))
				r.Post("/{sessionId}/next", handleInwardNext(svc))
				r.Post("/{sessionId}/previous", handleInwardPrevious(svc))
				r.Post("/{sessionId}/complete", handleInwardComplete(svc))
				r.Post("/{sessionId}/cancel", handleInwardCancel(svc))
			})
		}

		if desk := deps.Desk; desk != nil {
			r.Get("/requests", handleRequestList(desk))
			r.Route("/issuance", func(r chi.Router) {
				r.Get("/form", handleIssuanceForm(desk))
				r.Delete("/form", handleIssuanceClear(desk))
				r.Post("/form/select", handleIssuanceSelect(desk))
				r.Post("/form/adjust", handleIssuanceAdjust(desk))
				r.Put("/form/notes", handleIssuanceNotes(desk))
				r.Post("/form/tags/{side}", handleIssuanceAddTag(desk))
				r.Delete("/form/tags/{side}/{index}", handleIssuanceRemoveTag(desk))
				r.Post("/issue", handleIssue(desk))
				r.Get("/issued", handleIssuedList(desk))
			})
		}

		if ledger := deps.Ledger; ledger != nil {
			r.Route("/inventory", func(r chi.Router) {
				r.Get("/", handleInventorySummary(ledger))
				r.Get("/{gas}", handleInventoryLevel(ledger))
				r.With(RequireRole(model.RoleSupervisor, model.RoleAdmin)).
					Post("/{gas}/adjust", handleInventoryAdjust(ledger))
			})
		}

		if catalog := deps.Catalog; catalog != nil {
			r.Route("/purchase-orders", func(r chi.Router) {
				r.Get("/", handlePurchaseOrderList(catalog))
				r.Post("/sync", handlePurchaseOrderSync(catalog))
				r.Get("/{number}", handlePurchaseOrderGet(catalog))
				r.With(RequireRole(model.RoleSupervisor, model.RoleAdmin)).
					Post("/{number}/advance", handlePurchaseOrderAdvance(catalog))
			})
		}

		if deps.Dashboard != nil {
			r.Get("/dashboard", handleDashboard(deps.Dashboard))
		}

		if exporter := deps.Reports; exporter != nil {
			r.Route("/reports", func(r chi.Router) {
				r.Get("/shipments.xlsx", handleShipmentReport(exporter))
				r.Get("/inventory.xlsx", handleInventoryReport(exporter))
				r.Get("/issuances.xlsx", handleIssuanceReport(exporter))
			})
		}
	})

	return r
}

func orDefault(h http.Handler, def http.HandlerFunc) http.Handler {
	if h != nil {
		return h
	}
	return def
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
}
