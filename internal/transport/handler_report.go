package transport

import (
	"net/http"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/pitabwire/cylinder-portal/internal/observability"
	"github.com/pitabwire/cylinder-portal/internal/report"
	"github.com/pitabwire/cylinder-portal/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func handleShipmentReport(exporter *report.Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		f, filename, err := exporter.Shipments(r.Context(), rctx)
		writeWorkbook(w, r, f, filename, err)
	}
}

func handleInventoryReport(exporter *report.Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, filename, err := exporter.Inventory()
		writeWorkbook(w, r, f, filename, err)
	}
}

func handleIssuanceReport(exporter *report.Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, filename, err := exporter.Issuances()
		writeWorkbook(w, r, f, filename, err)
	}
}

func writeWorkbook(w http.ResponseWriter, r *http.Request, f *excelize.File, filename string, err error) {
	if err != nil {
		WriteError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	w.Header().Set("Content-Transfer-Encoding", "binary")
	w.WriteHeader(http.StatusOK)

	if err := f.Write(w); err != nil {
		observability.RequestLogger(r.Context(), zap.NewNop()).Error("write workbook",
			zap.String("filename", filename),
			zap.Error(err),
		)
	}
}
