package sqlite

import (
	"database/sql"
	"fmt"
)

// Schema creates every table the store needs. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	display_name  TEXT NOT NULL,
	avatar_url    TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL CHECK (role IN ('photographer', 'customer')),
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	photographer_id TEXT NOT NULL REFERENCES users(id),
	customer_id     TEXT NOT NULL REFERENCES users(id),
	event_type      TEXT NOT NULL,
	event_date      DATETIME NOT NULL,
	location        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_photographer ON jobs(photographer_id);
CREATE INDEX IF NOT EXISTS idx_jobs_customer ON jobs(customer_id);

CREATE TABLE IF NOT EXISTS messages (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	sender_id      TEXT NOT NULL REFERENCES users(id),
	text           TEXT,
	attachment_ref TEXT,
	client_token   TEXT,
	created_at     INTEGER NOT NULL,
	CHECK (text IS NOT NULL OR attachment_ref IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_messages_job_order ON messages(job_id, created_at, id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_token ON messages(job_id, client_token)
	WHERE client_token IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_messages_attachment ON messages(attachment_ref)
	WHERE attachment_ref IS NOT NULL;
`

// Migrate applies Schema. It matches the setup signature of NewWithSetup.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
