package transport

import (
	"net/http"

	"github.com/pitabwire/cylinder-portal/internal/dashboard"
)

// handleDashboard returns the last computed snapshot. With refresh=true it
// recomputes first, which backs the dashboard's manual refresh button.
func handleDashboard(refresher *dashboard.Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("refresh") == "true" {
			WriteJSON(w, http.StatusOK, refresher.Refresh(r.Context()))
			return
		}
		WriteJSON(w, http.StatusOK, refresher.Snapshot())
	}
}
