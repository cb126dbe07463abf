package model

import "time"

// InwardDescriptor is the frontend view of an inward session.
type InwardDescriptor struct {
	ID                string              `json:"id"`
	Status            string              `json:"status"`
	CurrentStep       StepSummary         `json:"current_step"`
	CompletionPercent float64             `json:"completion_percent"`
	CanComplete       bool                `json:"can_complete"`
	Steps             []StepSummary       `json:"steps"`
	Record            InwardRecord        `json:"record"`
	QualityChecks     []QualityCheck      `json:"quality_checks"`
	Missing           map[string][]string `json:"missing,omitempty"`
	CompletedCount    int                 `json:"completed_count"`
	History           []HistoryEntry      `json:"history"`
}

// StepSummary is a lightweight step representation for progress display.
type StepSummary struct {
	Order  Step       `json:"order"`
	Key    string     `json:"key"`
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
}

// HistoryEntry is one entry in a session's audit trail.
type HistoryEntry struct {
	StepName  string `json:"step_name"`
	Event     string `json:"event"`
	Actor     string `json:"actor"`
	Timestamp string `json:"timestamp"`
	Comment   string `json:"comment,omitempty"`
}

// IssuanceDescriptor is the frontend view of an operator's issuance form.
type IssuanceDescriptor struct {
	Request *CylinderRequest `json:"request"`
	Form    IssuanceForm     `json:"form"`
	Verdict ExchangeVerdict  `json:"verdict"`
}

// DashboardSnapshot is the periodically refreshed dashboard view.
type DashboardSnapshot struct {
	ActivePOs       int          `json:"active_pos"`
	TotalCylinders  int          `json:"total_cylinders"`
	StockPercent    float64      `json:"stock_percent"`
	PendingRequests int          `json:"pending_requests"`
	LowStockAlerts  int          `json:"low_stock_alerts"`
	Stock           []StockLevel `json:"stock"`
	OverduePOs      []string     `json:"overdue_pos,omitempty"`
	RecentActivity  []Activity   `json:"recent_activity"`
	RefreshedAt     string       `json:"refreshed_at"`
}

// Activity kinds shown in the dashboard feed.
const (
	ActivityInward   = "inward"
	ActivityIssuance = "issuance"
	ActivityLowStock = "low_stock"
	ActivityPO       = "purchase_order"
)

// Activity is one entry in the dashboard's recent activity feed.
type Activity struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
