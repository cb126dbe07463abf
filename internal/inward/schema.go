package inward

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS inward_sessions (
		id              VARCHAR(36) PRIMARY KEY,
		plant_id        VARCHAR(64) NOT NULL,
		operator_id     VARCHAR(64) NOT NULL,
		current_step    SMALLINT NOT NULL,
		status          VARCHAR(20) NOT NULL,
		record          JSONB NOT NULL,
		completed_count INT NOT NULL DEFAULT 0,
		version         INT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inward_sessions_plant_status ON inward_sessions(plant_id, status)`,
	`CREATE TABLE IF NOT EXISTS inward_events (
		id         VARCHAR(36) PRIMARY KEY,
		session_id VARCHAR(36) NOT NULL REFERENCES inward_sessions(id) ON DELETE CASCADE,
		step       SMALLINT NOT NULL,
		event      VARCHAR(50) NOT NULL,
		actor_id   VARCHAR(64) NOT NULL,
		data       JSONB,
		comment    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inward_events_session ON inward_events(session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS completed_shipments (
		id           VARCHAR(36) PRIMARY KEY,
		session_id   VARCHAR(36) NOT NULL,
		plant_id     VARCHAR(64) NOT NULL,
		operator_id  VARCHAR(64) NOT NULL,
		gas          VARCHAR(20) NOT NULL DEFAULT '',
		record       JSONB NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_completed_shipments_plant ON completed_shipments(plant_id, completed_at DESC)`,
}

// Migrate creates the inward tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("inward migrate: %w", err)
		}
	}
	return nil
}
