package model

import "time"

// StockLevel is the cylinder count for one gas type.
type StockLevel struct {
	Gas   GasType `json:"gas" yaml:"gas"`
	Full  int     `json:"full" yaml:"full"`
	Empty int     `json:"empty" yaml:"empty"`
}

// Total returns full plus empty cylinders.
func (s StockLevel) Total() int { return s.Full + s.Empty }

// StockPercent returns the share of full cylinders as a percentage of the
// total. It is 0 when no cylinders are held.
func (s StockLevel) StockPercent() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Full) / float64(total) * 100
}

// LowStock reports whether the full-cylinder share is below thresholdPct.
func (s StockLevel) LowStock(thresholdPct float64) bool {
	return s.StockPercent() < thresholdPct
}

// StockMovement is one entry of the inventory audit log.
type StockMovement struct {
	Gas        GasType   `json:"gas"`
	FullDelta  int       `json:"full_delta"`
	EmptyDelta int       `json:"empty_delta"`
	Reason     string    `json:"reason"`
	Reference  string    `json:"reference"`
	ActorID    string    `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
}
