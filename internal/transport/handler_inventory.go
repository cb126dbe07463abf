package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/cylinder-portal/internal/inventory"
	"github.com/pitabwire/cylinder-portal/model"
)

func handleInventorySummary(ledger *inventory.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, ledger.Summary())
	}
}

func handleInventoryLevel(ledger *inventory.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gas := model.GasType(chi.URLParam(r, "gas"))
		level, ok := ledger.Level(gas)
		if !ok {
			WriteNotFound(w, "no stock level for gas "+string(gas))
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"level":     level,
			"movements": ledger.Movements(gas, queryInt(r, "limit", 20)),
		})
	}
}

func handleInventoryAdjust(ledger *inventory.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Full  int    `json:"full"`
			Empty int    `json:"empty"`
			Note  string `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		gas := model.GasType(chi.URLParam(r, "gas"))
		level, err := ledger.Adjust(r.Context(), rctx, gas, body.Full, body.Empty, body.Note)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, level)
	}
}
