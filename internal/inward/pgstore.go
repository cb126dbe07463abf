package inward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/cylinder-portal/model"
)

// PgSessionStore is a PostgreSQL-backed SessionStore using pgx/v5. The
// inward record is stored as JSONB.
type PgSessionStore struct {
	pool *pgxpool.Pool
}

// NewPgSessionStore creates a new PostgreSQL session store.
func NewPgSessionStore(pool *pgxpool.Pool) *PgSessionStore {
	return &PgSessionStore{pool: pool}
}

// HealthCheck pings the database.
func (s *PgSessionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new session.
func (s *PgSessionStore) Create(ctx context.Context, sess model.InwardSession) error {
	recordJSON, err := json.Marshal(sess.Record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO inward_sessions (
			id, plant_id, operator_id, current_step, status,
			record, completed_count, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID, sess.PlantID, sess.OperatorID, int(sess.CurrentStep), sess.Status,
		recordJSON, sess.CompletedCount, sess.Version, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert inward session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID, scoped to plant.
func (s *PgSessionStore) Get(ctx context.Context, plantID, sessionID string) (model.InwardSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, plant_id, operator_id, current_step, status,
		       record, completed_count, version, created_at, updated_at
		FROM inward_sessions
		WHERE id = $1 AND plant_id = $2`,
		sessionID, plantID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.InwardSession{}, model.NewNotFoundError(
			fmt.Sprintf("inward session %q not found", sessionID),
		)
	}
	if err != nil {
		return model.InwardSession{}, fmt.Errorf("query inward session: %w", err)
	}
	return sess, nil
}

// Update persists an updated session with optimistic locking.
func (s *PgSessionStore) Update(ctx context.Context, sess model.InwardSession) error {
	recordJSON, err := json.Marshal(sess.Record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE inward_sessions SET
			current_step = $1,
			status = $2,
			record = $3,
			completed_count = $4,
			version = $5,
			updated_at = $6
		WHERE id = $7 AND version = $8`,
		int(sess.CurrentStep), sess.Status, recordJSON, sess.CompletedCount,
		sess.Version+1, time.Now().UTC(),
		sess.ID, sess.Version,
	)
	if err != nil {
		return fmt.Errorf("update inward session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("inward session %q version conflict (expected %d)", sess.ID, sess.Version),
		)
	}
	return nil
}

// AppendEvent adds an event to the session audit trail.
func (s *PgSessionStore) AppendEvent(ctx context.Context, event model.InwardEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO inward_events (
			id, session_id, step, event, actor_id, data, comment, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.SessionID, int(event.Step), event.Event,
		event.ActorID, dataJSON, event.Comment, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert inward event: %w", err)
	}
	return nil
}

// GetEvents retrieves all events for a session.
func (s *PgSessionStore) GetEvents(ctx context.Context, plantID, sessionID string) ([]model.InwardEvent, error) {
	if _, err := s.Get(ctx, plantID, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, step, event, actor_id, data, comment, created_at
		FROM inward_events
		WHERE session_id = $1
		ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query inward events: %w", err)
	}
	defer rows.Close()

	var events []model.InwardEvent
	for rows.Next() {
		var evt model.InwardEvent
		var step int
		var dataJSON []byte
		if err := rows.Scan(
			&evt.ID, &evt.SessionID, &step, &evt.Event,
			&evt.ActorID, &dataJSON, &evt.Comment, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan inward event: %w", err)
		}
		evt.Step = model.Step(step)
		if dataJSON != nil {
			_ = json.Unmarshal(dataJSON, &evt.Data)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// FindActive returns active sessions for a plant.
func (s *PgSessionStore) FindActive(ctx context.Context, plantID string, filters SessionFilters) ([]model.InwardSession, error) {
	query := `SELECT id, plant_id, operator_id, current_step, status,
	                 record, completed_count, version, created_at, updated_at
	          FROM inward_sessions
	          WHERE plant_id = $1 AND status = 'active'`
	args := []any{plantID}
	argIdx := 2

	if filters.OperatorID != "" {
		query += fmt.Sprintf(" AND operator_id = $%d", argIdx)
		args = append(args, filters.OperatorID)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id ASC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inward sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.InwardSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inward session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (model.InwardSession, error) {
	var sess model.InwardSession
	var step int
	var recordJSON []byte
	if err := row.Scan(
		&sess.ID, &sess.PlantID, &sess.OperatorID, &step, &sess.Status,
		&recordJSON, &sess.CompletedCount, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt,
	); err != nil {
		return model.InwardSession{}, err
	}
	sess.CurrentStep = model.Step(step)
	sess.Record = model.NewInwardRecord()
	if recordJSON != nil {
		if err := json.Unmarshal(recordJSON, &sess.Record); err != nil {
			return model.InwardSession{}, fmt.Errorf("unmarshal record: %w", err)
		}
	}
	return sess, nil
}
