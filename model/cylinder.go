package model

import (
	"math"
	"time"
)

// GasType identifies the gas a cylinder holds.
type GasType string

// Gas types stocked by the plant.
const (
	GasCO2    GasType = "CO2"
	GasArgon  GasType = "Argon"
	GasOxygen GasType = "Oxygen"
)

// AllGases lists stocked gas types in display order.
var AllGases = []GasType{GasCO2, GasArgon, GasOxygen}

// Valid reports whether g is a stocked gas type.
func (g GasType) Valid() bool {
	switch g {
	case GasCO2, GasArgon, GasOxygen:
		return true
	}
	return false
}

// DepartmentVendor is the department name used for vendor pick-ups, which
// are exempt from the full-for-empty exchange rule.
const DepartmentVendor = "Vendor"

// RequestStatus is the lifecycle status of a cylinder request.
type RequestStatus string

// Cylinder request statuses.
const (
	RequestPending    RequestStatus = "Pending"
	RequestInProgress RequestStatus = "In Progress"
	RequestCompleted  RequestStatus = "Completed"
	RequestCancelled  RequestStatus = "Cancelled"
)

// Open reports whether the request can still be issued against.
func (s RequestStatus) Open() bool {
	return s == RequestPending || s == RequestInProgress
}

// Request priorities.
const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"
)

// CylinderRequest is a department's pending ask for cylinders.
type CylinderRequest struct {
	ID          string        `json:"id" yaml:"id"`
	Department  string        `json:"department" yaml:"department"`
	ItemsNeeded string        `json:"items_needed" yaml:"items_needed"`
	Gas         GasType       `json:"gas" yaml:"gas"`
	Quantity    int           `json:"quantity" yaml:"quantity"`
	Status      RequestStatus `json:"status" yaml:"status"`
	Requester   string        `json:"requester" yaml:"requester"`
	Priority    string        `json:"priority" yaml:"priority"`
	RequestedAt time.Time     `json:"requested_at" yaml:"requested_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" yaml:"-"`
}

// IsVendor reports whether the request comes from a vendor.
func (r CylinderRequest) IsVendor() bool {
	return r.Department == DepartmentVendor
}

// IssuanceForm is the transient exchange form scoped to one selected
// request.
type IssuanceForm struct {
	RequestID              string  `json:"request_id"`
	FullCylindersIssued    int     `json:"full_cylinders_issued"`
	EmptyCylindersReceived int     `json:"empty_cylinders_received"`
	IssuedTags             TagList `json:"issued_tags"`
	ReceivedTags           TagList `json:"received_tags"`
	Notes                  string  `json:"notes"`
}

// NewIssuanceForm returns an empty form scoped to requestID.
func NewIssuanceForm(requestID string) IssuanceForm {
	return IssuanceForm{
		RequestID:    requestID,
		IssuedTags:   TagList{},
		ReceivedTags: TagList{},
	}
}

// AdjustFull changes the full-cylinder counter by delta, clamping at zero.
func (f *IssuanceForm) AdjustFull(delta int) {
	f.FullCylindersIssued = clampAdd(f.FullCylindersIssued, delta)
}

// AdjustEmpty changes the empty-cylinder counter by delta, clamping at zero.
func (f *IssuanceForm) AdjustEmpty(delta int) {
	f.EmptyCylindersReceived = clampAdd(f.EmptyCylindersReceived, delta)
}

// Tags returns the tag list for side, or nil for an unknown side.
func (f *IssuanceForm) Tags(side TagSide) *TagList {
	switch side {
	case TagSideIssued:
		return &f.IssuedTags
	case TagSideReceived:
		return &f.ReceivedTags
	}
	return nil
}

// Clone returns a deep copy of the form.
func (f IssuanceForm) Clone() IssuanceForm {
	out := f
	out.IssuedTags = f.IssuedTags.Clone()
	out.ReceivedTags = f.ReceivedTags.Clone()
	return out
}

// MaxCounterAdjust bounds a single counter adjustment on the issuance form.
const MaxCounterAdjust = 1000

// clampAdd adds delta to v, clamping at zero and saturating at math.MaxInt.
func clampAdd(v, delta int) int {
	if delta > 0 && v > math.MaxInt-delta {
		return math.MaxInt
	}
	v += delta
	if v < 0 {
		return 0
	}
	return v
}

// TagSide selects which side of an exchange a tag belongs to.
type TagSide string

// Exchange sides.
const (
	TagSideIssued   TagSide = "issued"
	TagSideReceived TagSide = "received"
)

// ExchangeVerdict is the derived exchange validity plus the banner text
// shown next to the issue action.
type ExchangeVerdict struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// IssuanceRecord is the final-state record of a confirmed issuance.
type IssuanceRecord struct {
	ID                     string    `json:"id"`
	RequestID              string    `json:"request_id"`
	Department             string    `json:"department"`
	Gas                    GasType   `json:"gas"`
	FullCylindersIssued    int       `json:"full_cylinders_issued"`
	EmptyCylindersReceived int       `json:"empty_cylinders_received"`
	IssuedTags             TagList   `json:"issued_tags"`
	ReceivedTags           TagList   `json:"received_tags"`
	Notes                  string    `json:"notes,omitempty"`
	OperatorID             string    `json:"operator_id"`
	IssuedAt               time.Time `json:"issued_at"`
}
