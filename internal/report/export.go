// Package report builds Excel workbooks of completed shipments, inventory
// and issuances.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pitabwire/cylinder-portal/internal/inventory"
	"github.com/pitabwire/cylinder-portal/model"
)

const exportLimit = 1000

// ShipmentSource lists completed inward shipments.
type ShipmentSource interface {
	Shipments(ctx context.Context, rctx *model.RequestContext, limit int) ([]model.CompletedShipment, error)
}

// InventorySource summarises stock levels.
type InventorySource interface {
	Summary() inventory.Summary
	Movements(gas model.GasType, limit int) []model.StockMovement
}

// IssuanceSource lists confirmed issuances.
type IssuanceSource interface {
	Issued(limit int) []model.IssuanceRecord
}

// Exporter renders portal data as xlsx workbooks.
type Exporter struct {
	shipments ShipmentSource
	inventory InventorySource
	issuances IssuanceSource
	now       func() time.Time
}

// NewExporter creates an exporter over the given sources.
func NewExporter(shipments ShipmentSource, inv InventorySource, issuances IssuanceSource) *Exporter {
	return &Exporter{
		shipments: shipments,
		inventory: inv,
		issuances: issuances,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Shipments exports completed inward shipments for the caller's plant.
func (e *Exporter) Shipments(ctx context.Context, rctx *model.RequestContext) (*excelize.File, string, error) {
	shipments, err := e.shipments.Shipments(ctx, rctx, exportLimit)
	if err != nil {
		return nil, "", fmt.Errorf("list shipments: %w", err)
	}

	f := excelize.NewFile()
	sheet := "Inward"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, "", err
	}

	headers := []string{
		"Completed At", "Truck ID", "Driver", "Arrival Time", "Gross (kg)", "Tare (kg)",
		"Net (kg)", "PO Number", "Invoice", "Items", "Gas", "Failed Checks", "RFID Tags", "Operator",
	}
	if err := writeHeader(f, sheet, headers); err != nil {
		return nil, "", err
	}

	for i, s := range shipments {
		r := s.Record
		arrival := ""
		if r.Arrival.ArrivalTime != nil {
			arrival = r.Arrival.ArrivalTime.Format(time.RFC3339)
		}
		gross, _ := r.Weighing.GrossWeight.Float64()
		tare, _ := r.Weighing.TareWeight.Float64()
		net, _ := r.Weighing.NetWeight.Float64()
		row := []any{
			s.CompletedAt.Format(time.RFC3339),
			r.Arrival.TruckID,
			r.Arrival.DriverName,
			arrival,
			gross,
			tare,
			net,
			r.Tally.PONumber,
			r.Tally.InvoiceNumber,
			r.Tally.ItemCount,
			string(s.Gas),
			strings.Join(r.Inspection.Failed(), ", "),
			strings.Join(r.Tagging.Tags, ", "),
			s.OperatorID,
		}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return nil, "", err
		}
	}

	setWidths(f, sheet, []float64{22, 16, 18, 22, 12, 12, 12, 14, 14, 8, 10, 24, 36, 14})
	return f, e.filename("inward_shipments"), nil
}

// Inventory exports the stock summary plus recent movements.
func (e *Exporter) Inventory() (*excelize.File, string, error) {
	summary := e.inventory.Summary()

	f := excelize.NewFile()
	sheet := "Stock"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, "", err
	}
	if err := writeHeader(f, sheet, []string{"Gas", "Full", "Empty", "Total", "Stock %", "Low Stock"}); err != nil {
		return nil, "", err
	}
	for i, l := range summary.Levels {
		low := "No"
		if l.Low {
			low = "Yes"
		}
		row := []any{string(l.Gas), l.Full, l.Empty, l.Total, round1(l.StockPercent), low}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return nil, "", err
		}
	}

	totalRow := len(summary.Levels) + 2
	summaryStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, "", err
	}
	_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", totalRow), "Total")
	_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", totalRow), summary.TotalCylinders)
	_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", totalRow), fmt.Sprintf("Threshold %.0f%%", summary.ThresholdPct))
	_ = f.SetCellStyle(sheet, fmt.Sprintf("A%d", totalRow), fmt.Sprintf("F%d", totalRow), summaryStyle)
	setWidths(f, sheet, []float64{12, 10, 10, 10, 10, 18})

	moves := "Movements"
	if _, err := f.NewSheet(moves); err != nil {
		return nil, "", err
	}
	if err := writeHeader(f, moves, []string{"Timestamp", "Gas", "Full Δ", "Empty Δ", "Reason", "Reference", "Actor"}); err != nil {
		return nil, "", err
	}
	for i, m := range e.inventory.Movements("", exportLimit) {
		row := []any{m.Timestamp.Format(time.RFC3339), string(m.Gas), m.FullDelta, m.EmptyDelta, m.Reason, m.Reference, m.ActorID}
		if err := writeRow(f, moves, i+2, row); err != nil {
			return nil, "", err
		}
	}
	setWidths(f, moves, []float64{22, 10, 8, 8, 18, 24, 14})

	return f, e.filename("inventory"), nil
}

// Issuances exports confirmed issuances.
func (e *Exporter) Issuances() (*excelize.File, string, error) {
	f := excelize.NewFile()
	sheet := "Issuances"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, "", err
	}
	headers := []string{"Issued At", "Request", "Department", "Gas", "Full Issued", "Empty Received", "Issued Tags", "Received Tags", "Notes", "Operator"}
	if err := writeHeader(f, sheet, headers); err != nil {
		return nil, "", err
	}
	for i, r := range e.issuances.Issued(exportLimit) {
		row := []any{
			r.IssuedAt.Format(time.RFC3339),
			r.RequestID,
			r.Department,
			string(r.Gas),
			r.FullCylindersIssued,
			r.EmptyCylindersReceived,
			strings.Join(r.IssuedTags, ", "),
			strings.Join(r.ReceivedTags, ", "),
			r.Notes,
			r.OperatorID,
		}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return nil, "", err
		}
	}
	setWidths(f, sheet, []float64{22, 12, 16, 10, 12, 14, 30, 30, 24, 14})
	return f, e.filename("issuances"), nil
}

func (e *Exporter) filename(prefix string) string {
	return fmt.Sprintf("%s_%s.xlsx", prefix, e.now().Format("20060102"))
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "#000000", Style: 1},
		},
	})
	if err != nil {
		return err
	}
	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func setWidths(f *excelize.File, sheet string, widths []float64) {
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, col, col, w)
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
