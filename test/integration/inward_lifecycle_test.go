package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pitabwire/cylinder-portal/internal/inward"
	"github.com/pitabwire/cylinder-portal/model"
)

// ==========================================================================
// Helper: start an inward session and return its ID
// ==========================================================================

func startInward(t *testing.T, h *TestHarness, token string) string {
	t.Helper()

	var desc model.InwardDescriptor
	h.AssertJSON(t, h.POST("/api/inward", nil, token), http.StatusCreated, &desc)
	if desc.ID == "" {
		t.Fatal("expected session ID in start response")
	}
	return desc.ID
}

func inwardStep(t *testing.T, h *TestHarness, token, path string, body any) model.InwardDescriptor {
	t.Helper()

	var (
		resp *http.Response
		desc model.InwardDescriptor
	)
	switch {
	case body == nil:
		resp = h.POST(path, nil, token)
	case strings.HasSuffix(path, "/tags"):
		resp = h.POST(path, body, token)
	default:
		resp = h.PUT(path, body, token)
	}
	h.AssertJSON(t, resp, http.StatusOK, &desc)
	return desc
}

// ==========================================================================
// Full Inward Lifecycle
// ==========================================================================

func TestInward_FullLifecycle(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(StoreKeeperClaims())
	id := startInward(t, h, token)
	base := "/api/inward/" + id

	// 1. Truck arrival.
	arrived := time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC)
	desc := inwardStep(t, h, token, base+"/arrival", map[string]any{
		"truck_id":     "MH-12-AB-4521",
		"driver_name":  "R. Patil",
		"arrival_time": arrived,
	})
	if missing := desc.Missing[model.StepTruckArrival.Key()]; len(missing) != 0 {
		t.Errorf("arrival still missing %v", missing)
	}
	desc = inwardStep(t, h, token, base+"/next", nil)
	assertStep(t, desc, model.StepWeighing)

	// 2. Weighing: net follows gross minus tare.
	desc = inwardStep(t, h, token, base+"/weighing", map[string]any{
		"gross_weight": "12500.5",
		"tare_weight":  "11500",
	})
	assertEqual(t, desc.Record.Weighing.NetWeight.String(), "1000.5", "derived net weight")
	desc = inwardStep(t, h, token, base+"/next", nil)

	// 3. Tally.
	desc = inwardStep(t, h, token, base+"/tally", map[string]any{
		"po_number":      "PO-1001",
		"invoice_number": "INV-88",
		"item_count":     2,
		"gas":            "CO2",
	})
	assertEqual(t, desc.Record.Tally.PONumber, "PO-1001", "po_number")
	desc = inwardStep(t, h, token, base+"/next", nil)

	// 4. Quality inspection.
	checks := map[string]string{}
	for _, c := range model.DefaultQualityChecks {
		checks[c.ID] = "pass"
	}
	desc = inwardStep(t, h, token, base+"/inspection", map[string]any{
		"checks": checks,
		"notes":  "All cylinders sealed",
	})
	assertEqual(t, desc.Record.Notes, "All cylinders sealed", "notes")
	desc = inwardStep(t, h, token, base+"/next", nil)
	assertStep(t, desc, model.StepTagging)

	// 5. RFID tagging: blanks ignored, duplicates kept, removal by index.
	for _, tag := range []string{"RFID-0001", "   ", "RFID-0002", "RFID-0001"} {
		desc = inwardStep(t, h, token, base+"/tags", map[string]string{"tag": tag})
	}
	if got := len(desc.Record.Tagging.Tags); got != 3 {
		t.Fatalf("tags = %v, want 3 entries", desc.Record.Tagging.Tags)
	}
	var removed model.InwardDescriptor
	h.AssertJSON(t, h.DELETE(base+"/tags/2", token), http.StatusOK, &removed)
	assertEqual(t, strings.Join(removed.Record.Tagging.Tags, ","), "RFID-0001,RFID-0002", "tags after removal")

	desc = inwardStep(t, h, token, base+"/next", nil)
	assertStep(t, desc, model.StepComplete)
	if desc.CompletionPercent != 100 {
		t.Errorf("completion percent = %v, want 100", desc.CompletionPercent)
	}
	if !desc.CanComplete {
		t.Error("can_complete should be true at the final step")
	}

	// 6. Complete: the shipment is recorded and the session resets.
	var result inward.CompletionResult
	h.AssertJSON(t, h.POST(base+"/complete", nil, token), http.StatusOK, &result)
	assertEqual(t, result.Shipment.Record.Arrival.TruckID, "MH-12-AB-4521", "shipment truck")
	assertEqual(t, result.Shipment.OperatorID, "op-keeper", "shipment operator")
	assertStep(t, result.Session, model.StepTruckArrival)
	if result.Session.Record.Arrival.TruckID != "" {
		t.Error("record should be reset after completion")
	}
	if result.Session.CompletedCount != 1 {
		t.Errorf("completed_count = %d, want 1", result.Session.CompletedCount)
	}

	// Received cylinders are credited to inventory.
	var level struct {
		Level model.StockLevel `json:"level"`
	}
	h.AssertJSON(t, h.GET("/api/inventory/CO2", token), http.StatusOK, &level)
	if level.Level.Full != 42 {
		t.Errorf("CO2 full = %d, want 42", level.Level.Full)
	}

	// The shipment is listed for the plant.
	var shipments struct {
		Data       []model.CompletedShipment `json:"data"`
		TotalCount int                       `json:"total_count"`
	}
	h.AssertJSON(t, h.GET("/api/inward/shipments", token), http.StatusOK, &shipments)
	if shipments.TotalCount != 1 || shipments.Data[0].ID != result.Shipment.ID {
		t.Errorf("shipments = %+v, want the completed shipment", shipments)
	}

	body := string(h.ReadBody(h.GET("/metrics", "")))
	if !strings.Contains(body, `portal_inward_completions_total{gas="CO2"} 1`) {
		t.Error("metrics should count the completed CO2 shipment")
	}
}

// ==========================================================================
// Stepper edges
// ==========================================================================

func TestInward_NavigationBoundsAreNoOps(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(StoreKeeperClaims())
	base := "/api/inward/" + startInward(t, h, token)

	desc := inwardStep(t, h, token, base+"/previous", nil)
	assertStep(t, desc, model.StepTruckArrival)

	for range model.StepCount + 2 {
		desc = inwardStep(t, h, token, base+"/next", nil)
	}
	assertStep(t, desc, model.StepComplete)
}

func TestInward_CompleteBeforeFinalStep_Returns422(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(StoreKeeperClaims())
	base := "/api/inward/" + startInward(t, h, token)

	h.AssertErrorCode(t, h.POST(base+"/complete", nil, token),
		http.StatusUnprocessableEntity, model.ErrInvalidTransition)
}

func TestInward_NetOverrideSurvivesWeightEdits(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(StoreKeeperClaims())
	base := "/api/inward/" + startInward(t, h, token)

	inwardStep(t, h, token, base+"/weighing", map[string]any{"gross_weight": "900", "tare_weight": "400"})
	desc := inwardStep(t, h, token, base+"/weighing", map[string]any{"net_weight": "480"})
	assertEqual(t, desc.Record.Weighing.NetWeight.String(), "480", "overridden net")

	desc = inwardStep(t, h, token, base+"/weighing", map[string]any{"gross_weight": "1000"})
	assertEqual(t, desc.Record.Weighing.NetWeight.String(), "480", "net after gross edit")

	desc = inwardStep(t, h, token, base+"/weighing", map[string]any{"clear_net_override": true})
	assertEqual(t, desc.Record.Weighing.NetWeight.String(), "600", "net after clearing override")
}

func TestInward_ValidationErrors(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(StoreKeeperClaims())
	base := "/api/inward/" + startInward(t, h, token)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"negative gross", base + "/weighing", map[string]any{"gross_weight": "-1"}},
		{"unknown gas", base + "/tally", map[string]any{"gas": "Helium"}},
		{"unknown check", base + "/inspection", map[string]any{"checks": map[string]string{"paint": "pass"}}},
		{"bad check result", base + "/inspection", map[string]any{"checks": map[string]string{"valve_condition": "maybe"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.AssertErrorCode(t, h.PUT(tt.path, tt.body, token), http.StatusUnprocessableEntity, model.ErrValidationError)
		})
	}
}

func TestInward_CancelledSessionRejectsEdits(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(StoreKeeperClaims())
	base := "/api/inward/" + startInward(t, h, token)

	h.AssertStatus(t, h.POST(base+"/cancel", map[string]string{"reason": "wrong plant"}, token), http.StatusOK)

	h.AssertErrorCode(t, h.PUT(base+"/arrival", map[string]string{"truck_id": "T-1"}, token),
		http.StatusConflict, model.ErrSessionNotActive)

	var list struct {
		TotalCount int `json:"total_count"`
	}
	h.AssertJSON(t, h.GET("/api/inward", token), http.StatusOK, &list)
	if list.TotalCount != 0 {
		t.Errorf("active sessions = %d, want 0 after cancel", list.TotalCount)
	}
}

func TestInward_HistoryRecordsActor(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(StoreKeeperClaims())
	base := "/api/inward/" + startInward(t, h, token)

	inwardStep(t, h, token, base+"/next", nil)

	var desc model.InwardDescriptor
	h.AssertJSON(t, h.GET(base, token), http.StatusOK, &desc)
	if len(desc.History) < 2 {
		t.Fatalf("history = %+v, want start and step entries", desc.History)
	}
	for _, e := range desc.History {
		if e.Actor != "op-keeper" {
			t.Errorf("history actor = %q, want op-keeper", e.Actor)
		}
	}
}

// ==========================================================================
// Helpers
// ==========================================================================

func assertStep(t *testing.T, desc model.InwardDescriptor, want model.Step) {
	t.Helper()
	if desc.CurrentStep.Order != want {
		t.Errorf("current step = %d (%s), want %d (%s)", desc.CurrentStep.Order, desc.CurrentStep.Name, want, want)
	}
}

func assertEqual(t *testing.T, got, want, label string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", label, got, want)
	}
}
