package model

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Step is one stage of the material inward process, numbered 1..StepCount.
type Step int

// Inward process stages in order.
const (
	StepTruckArrival Step = iota + 1
	StepWeighing
	StepTally
	StepInspection
	StepTagging
	StepComplete
)

// StepCount is the number of stages in the inward process.
const StepCount = 6

// AllSteps lists every stage in order.
var AllSteps = []Step{
	StepTruckArrival,
	StepWeighing,
	StepTally,
	StepInspection,
	StepTagging,
	StepComplete,
}

var stepKeys = map[Step]string{
	StepTruckArrival: "truck_arrival",
	StepWeighing:     "weighing",
	StepTally:        "tally",
	StepInspection:   "quality_inspection",
	StepTagging:      "rfid_tagging",
	StepComplete:     "complete",
}

var stepNames = map[Step]string{
	StepTruckArrival: "Truck Arrival",
	StepWeighing:     "Weighing",
	StepTally:        "PO/Invoice Tally",
	StepInspection:   "Quality Inspection",
	StepTagging:      "RFID Tagging",
	StepComplete:     "Complete",
}

// Valid reports whether s is within 1..StepCount.
func (s Step) Valid() bool { return s >= StepTruckArrival && s <= StepComplete }

// Key returns the stable machine identifier of the step.
func (s Step) Key() string {
	if k, ok := stepKeys[s]; ok {
		return k
	}
	return "unknown"
}

// String returns the display name of the step.
func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "Unknown"
}

// StepStatus is the display status of a step relative to the current step.
type StepStatus string

// Step display statuses.
const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusActive    StepStatus = "active"
	StepStatusUpcoming  StepStatus = "upcoming"
)

// StatusOf classifies step against current.
func StatusOf(step, current Step) StepStatus {
	switch {
	case step < current:
		return StepStatusCompleted
	case step == current:
		return StepStatusActive
	default:
		return StepStatusUpcoming
	}
}

// TruckArrival is captured at the gate.
type TruckArrival struct {
	TruckID     string     `json:"truck_id"`
	DriverName  string     `json:"driver_name"`
	ArrivalTime *time.Time `json:"arrival_time,omitempty"`
}

// Weighing holds weighbridge readings. NetWeight follows GrossWeight minus
// TareWeight until it is overridden by hand.
type Weighing struct {
	GrossWeight decimal.Decimal `json:"gross_weight"`
	TareWeight  decimal.Decimal `json:"tare_weight"`
	NetWeight   decimal.Decimal `json:"net_weight"`
	NetManual   bool            `json:"net_manual"`
}

// SetGross records the gross weight.
func (w *Weighing) SetGross(v decimal.Decimal) {
	w.GrossWeight = v
	w.derive()
}

// SetTare records the tare weight.
func (w *Weighing) SetTare(v decimal.Decimal) {
	w.TareWeight = v
	w.derive()
}

// OverrideNet pins the net weight. Later gross or tare edits leave it alone.
func (w *Weighing) OverrideNet(v decimal.Decimal) {
	w.NetWeight = v
	w.NetManual = true
}

// ClearNetOverride returns the net weight to gross minus tare.
func (w *Weighing) ClearNetOverride() {
	w.NetManual = false
	w.derive()
}

func (w *Weighing) derive() {
	if !w.NetManual {
		w.NetWeight = w.GrossWeight.Sub(w.TareWeight)
	}
}

// Tally reconciles the delivery against its paperwork.
type Tally struct {
	PONumber      string  `json:"po_number"`
	InvoiceNumber string  `json:"invoice_number"`
	ItemCount     int     `json:"item_count"`
	Gas           GasType `json:"gas,omitempty"`
}

// QualityResult is the outcome of a single quality check.
type QualityResult string

// Quality check outcomes.
const (
	QualityPass QualityResult = "pass"
	QualityFail QualityResult = "fail"
)

// Valid reports whether r is pass or fail.
func (r QualityResult) Valid() bool { return r == QualityPass || r == QualityFail }

// QualityCheck is one item of the inspection checklist.
type QualityCheck struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DefaultQualityChecks is the inspection checklist applied to incoming
// cylinders.
var DefaultQualityChecks = []QualityCheck{
	{ID: "valve_condition", Label: "Valve and cap intact"},
	{ID: "body_condition", Label: "Body free of dents and corrosion"},
	{ID: "test_date", Label: "Hydrostatic test date within validity"},
	{ID: "colour_code", Label: "Colour code matches gas type"},
	{ID: "markings", Label: "Labels and markings legible"},
}

// Inspection holds checklist results keyed by check ID.
type Inspection struct {
	Checks map[string]QualityResult `json:"checks"`
}

// Failed returns the IDs of checks marked as failed.
func (i Inspection) Failed() []string {
	var out []string
	for _, c := range DefaultQualityChecks {
		if i.Checks[c.ID] == QualityFail {
			out = append(out, c.ID)
		}
	}
	var extra []string
	for id, r := range i.Checks {
		if r == QualityFail && !isDefaultCheck(id) {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

func isDefaultCheck(id string) bool {
	for _, c := range DefaultQualityChecks {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Tagging holds RFID tags attached to received cylinders.
type Tagging struct {
	Tags TagList `json:"tags"`
}

// InwardRecord joins the per-step records of one truck delivery.
type InwardRecord struct {
	Arrival    TruckArrival `json:"arrival"`
	Weighing   Weighing     `json:"weighing"`
	Tally      Tally        `json:"tally"`
	Inspection Inspection   `json:"inspection"`
	Tagging    Tagging      `json:"tagging"`
	Notes      string       `json:"notes"`
}

// NewInwardRecord returns an empty record.
func NewInwardRecord() InwardRecord {
	return InwardRecord{
		Inspection: Inspection{Checks: make(map[string]QualityResult)},
		Tagging:    Tagging{Tags: TagList{}},
	}
}

// Clone returns a deep copy of the record.
func (r InwardRecord) Clone() InwardRecord {
	out := r
	if r.Arrival.ArrivalTime != nil {
		t := *r.Arrival.ArrivalTime
		out.Arrival.ArrivalTime = &t
	}
	out.Inspection.Checks = make(map[string]QualityResult, len(r.Inspection.Checks))
	maps.Copy(out.Inspection.Checks, r.Inspection.Checks)
	out.Tagging.Tags = r.Tagging.Tags.Clone()
	return out
}

// Missing returns the names of fields a step would normally require but are
// still empty. It is informational; navigation is never blocked by it.
func (r InwardRecord) Missing(step Step) []string {
	var missing []string
	switch step {
	case StepTruckArrival:
		if r.Arrival.TruckID == "" {
			missing = append(missing, "truck_id")
		}
		if r.Arrival.DriverName == "" {
			missing = append(missing, "driver_name")
		}
		if r.Arrival.ArrivalTime == nil {
			missing = append(missing, "arrival_time")
		}
	case StepWeighing:
		if r.Weighing.GrossWeight.IsZero() {
			missing = append(missing, "gross_weight")
		}
		if r.Weighing.TareWeight.IsZero() {
			missing = append(missing, "tare_weight")
		}
	case StepTally:
		if r.Tally.PONumber == "" {
			missing = append(missing, "po_number")
		}
		if r.Tally.InvoiceNumber == "" {
			missing = append(missing, "invoice_number")
		}
		if r.Tally.ItemCount <= 0 {
			missing = append(missing, "item_count")
		}
	case StepInspection:
		for _, c := range DefaultQualityChecks {
			if _, ok := r.Inspection.Checks[c.ID]; !ok {
				missing = append(missing, c.ID)
			}
		}
	case StepTagging:
		if r.Tagging.Tags.Len() == 0 {
			missing = append(missing, "tags")
		}
	}
	return missing
}
