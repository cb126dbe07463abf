package inward

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/cylinder-portal/model"
)

// ShipmentRecorder receives finished inward records when a session is
// confirmed at the final step.
type ShipmentRecorder interface {
	// Record persists a completed shipment.
	Record(ctx context.Context, shipment model.CompletedShipment) error

	// List returns completed shipments for a plant, newest first. A limit
	// of zero returns all of them.
	List(ctx context.Context, plantID string, limit int) ([]model.CompletedShipment, error)
}

// MemoryShipmentRecorder is an in-memory ShipmentRecorder.
type MemoryShipmentRecorder struct {
	mu        sync.RWMutex
	shipments []model.CompletedShipment
}

// NewMemoryShipmentRecorder creates an empty in-memory recorder.
func NewMemoryShipmentRecorder() *MemoryShipmentRecorder {
	return &MemoryShipmentRecorder{}
}

// Record appends a shipment.
func (r *MemoryShipmentRecorder) Record(_ context.Context, shipment model.CompletedShipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	shipment.Record = shipment.Record.Clone()
	r.shipments = append(r.shipments, shipment)
	return nil
}

// List returns shipments for a plant, newest first.
func (r *MemoryShipmentRecorder) List(_ context.Context, plantID string, limit int) ([]model.CompletedShipment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]model.CompletedShipment, 0, len(r.shipments))
	for _, s := range r.shipments {
		if s.PlantID != plantID {
			continue
		}
		s.Record = s.Record.Clone()
		result = append(result, s)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CompletedAt.After(result[j].CompletedAt)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// PgShipmentRecorder stores completed shipments in PostgreSQL.
type PgShipmentRecorder struct {
	pool *pgxpool.Pool
}

// NewPgShipmentRecorder creates a PostgreSQL shipment recorder.
func NewPgShipmentRecorder(pool *pgxpool.Pool) *PgShipmentRecorder {
	return &PgShipmentRecorder{pool: pool}
}

// Record inserts a shipment.
func (r *PgShipmentRecorder) Record(ctx context.Context, shipment model.CompletedShipment) error {
	recordJSON, err := json.Marshal(shipment.Record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO completed_shipments (
			id, session_id, plant_id, operator_id, gas, record, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		shipment.ID, shipment.SessionID, shipment.PlantID, shipment.OperatorID,
		string(shipment.Gas), recordJSON, shipment.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert completed shipment: %w", err)
	}
	return nil
}

// List returns shipments for a plant, newest first.
func (r *PgShipmentRecorder) List(ctx context.Context, plantID string, limit int) ([]model.CompletedShipment, error) {
	query := `SELECT id, session_id, plant_id, operator_id, gas, record, completed_at
	          FROM completed_shipments
	          WHERE plant_id = $1
	          ORDER BY completed_at DESC`
	args := []any{plantID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query completed shipments: %w", err)
	}
	defer rows.Close()

	var result []model.CompletedShipment
	for rows.Next() {
		var s model.CompletedShipment
		var gas string
		var recordJSON []byte
		if err := rows.Scan(
			&s.ID, &s.SessionID, &s.PlantID, &s.OperatorID, &gas, &recordJSON, &s.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan completed shipment: %w", err)
		}
		s.Gas = model.GasType(gas)
		if err := json.Unmarshal(recordJSON, &s.Record); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
