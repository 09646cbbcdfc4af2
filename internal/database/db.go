package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/procsuite/signaling-server-go/internal/config"
)

// Schema for the signaling session registry. Applied idempotently on boot;
// the table layout follows the original webrtc_sessions migration.
const schema = `
CREATE TABLE IF NOT EXISTS webrtc_sessions (
	id                 TEXT PRIMARY KEY,
	client_id          VARCHAR(255) NOT NULL,
	responder_id       VARCHAR(255),
	status             VARCHAR(50) NOT NULL DEFAULT 'pending',
	offer_sdp          TEXT NOT NULL,
	answer_sdp         TEXT,
	metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
	responder_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	ice_candidates     JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS ix_webrtc_sessions_client ON webrtc_sessions (client_id);
CREATE INDEX IF NOT EXISTS ix_webrtc_sessions_status ON webrtc_sessions (status);
`

type DB struct {
	*sqlx.DB
}

func Connect(databaseURL string) (*DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(config.DBMaxOpenConns)
	db.SetMaxIdleConns(config.DBMaxIdleConns)
	db.SetConnMaxLifetime(config.DBConnMaxLifetime)

	return &DB{db}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Migrate applies the schema. Safe to run on every start.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
