package model

import "time"

// Inward session status constants.
const (
	SessionStatusActive    = "active"
	SessionStatusCancelled = "cancelled"
)

// Audit event names recorded against inward sessions.
const (
	EventSessionStarted   = "session_started"
	EventStepEntered      = "step_entered"
	EventRecordUpdated    = "record_updated"
	EventTagAdded         = "tag_added"
	EventTagRemoved       = "tag_removed"
	EventShipmentComplete = "shipment_completed"
	EventSessionCancelled = "session_cancelled"
)

// InwardSession is one operator's run of the material inward process. The
// session survives completion: confirming the final step records the
// shipment and resets the session to step 1 with an empty record.
type InwardSession struct {
	ID             string       `json:"id"`
	PlantID        string       `json:"plant_id"`
	OperatorID     string       `json:"operator_id"`
	CurrentStep    Step         `json:"current_step"`
	Status         string       `json:"status"`
	Record         InwardRecord `json:"record"`
	CompletedCount int          `json:"completed_count"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Version        int          `json:"version"`
}

// InwardSummary is a lightweight representation of a session used in list
// views.
type InwardSummary struct {
	ID                string    `json:"id"`
	OperatorID        string    `json:"operator_id"`
	TruckID           string    `json:"truck_id"`
	CurrentStep       Step      `json:"current_step"`
	StepName          string    `json:"step_name"`
	CompletionPercent float64   `json:"completion_percent"`
	Status            string    `json:"status"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// InwardEvent records an event in a session's audit trail.
type InwardEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Step      Step           `json:"step"`
	Event     string         `json:"event"`
	ActorID   string         `json:"actor_id"`
	Data      map[string]any `json:"data,omitempty"`
	Comment   string         `json:"comment,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CompletedShipment is the final-state record produced when an inward
// session is confirmed at the last step.
type CompletedShipment struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	PlantID     string       `json:"plant_id"`
	OperatorID  string       `json:"operator_id"`
	Gas         GasType      `json:"gas,omitempty"`
	Record      InwardRecord `json:"record"`
	CompletedAt time.Time    `json:"completed_at"`
}
