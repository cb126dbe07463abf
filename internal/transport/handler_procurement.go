package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/cylinder-portal/internal/observability"
	"github.com/pitabwire/cylinder-portal/internal/procurement"
	"github.com/pitabwire/cylinder-portal/model"
)

func handlePurchaseOrderList(catalog *procurement.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		orders := catalog.List(procurement.Filter{
			Vendor: q.Get("vendor"),
			Status: model.PurchaseOrderStatus(q.Get("status")),
			Query:  q.Get("q"),
		})
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        orders,
			"total_count": len(orders),
		})
	}
}

func handlePurchaseOrderGet(catalog *procurement.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		po, err := catalog.Get(chi.URLParam(r, "number"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, po)
	}
}

func handlePurchaseOrderAdvance(catalog *procurement.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status model.PurchaseOrderStatus `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		po, err := catalog.Advance(chi.URLParam(r, "number"), body.Status)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, po)
	}
}

// handlePurchaseOrderSync pulls new orders from the ERP source.
func handlePurchaseOrderSync(catalog *procurement.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		added, err := catalog.Sync(r.Context())
		if err != nil {
			observability.RequestLogger(r.Context(), zap.NewNop()).Warn("purchase order sync failed", zap.Error(err))
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]int{"added": added})
	}
}
