package model

import "time"

// PurchaseOrderStatus is the lifecycle status of a purchase order.
type PurchaseOrderStatus string

// Purchase order statuses.
const (
	POStatusOpen         PurchaseOrderStatus = "Open"
	POStatusSent         PurchaseOrderStatus = "Sent"
	POStatusAcknowledged PurchaseOrderStatus = "Acknowledged"
	POStatusDelivered    PurchaseOrderStatus = "Delivered"
	POStatusClosed       PurchaseOrderStatus = "Closed"
)

// Active reports whether the order is still in flight.
func (s PurchaseOrderStatus) Active() bool {
	return s != POStatusDelivered && s != POStatusClosed
}

// PurchaseOrder is a vendor order fetched from the ERP.
type PurchaseOrder struct {
	Number   string              `json:"number" yaml:"number"`
	Vendor   string              `json:"vendor" yaml:"vendor"`
	Gas      GasType             `json:"gas" yaml:"gas"`
	Quantity int                 `json:"quantity" yaml:"quantity"`
	Status   PurchaseOrderStatus `json:"status" yaml:"status"`
	IssuedAt time.Time           `json:"issued_at" yaml:"issued_at"`
	SentAt   *time.Time          `json:"sent_at,omitempty" yaml:"sent_at"`
}

// Badge is the display label and tone for a status.
type Badge struct {
	Label string `json:"label"`
	Tone  string `json:"tone"`
}

// PurchaseOrderView decorates an order with derived display fields.
type PurchaseOrderView struct {
	PurchaseOrder
	Badge           Badge   `json:"badge"`
	OverdueHours    float64 `json:"overdue_hours"`
	ResponsePending bool    `json:"response_pending"`
}
