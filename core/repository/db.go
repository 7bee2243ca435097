package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// DB wraps the sql connection pool shared by all repositories
type DB struct {
	*sql.DB
}

// NewDB opens a postgres connection pool and ensures the schema exists
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{DB: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 UUID PRIMARY KEY,
	name               TEXT NOT NULL,
	command            TEXT NOT NULL,
	environment        TEXT NOT NULL,
	working_dir        TEXT NOT NULL DEFAULT '',
	sync_source        TEXT NOT NULL DEFAULT '',
	visualize          BOOLEAN NOT NULL DEFAULT FALSE,
	timeout_seconds    BIGINT NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	reason             TEXT NOT NULL DEFAULT '',
	pid                INTEGER,
	visualization_port INTEGER,
	log_path           TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	started_at         TIMESTAMPTZ,
	finished_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON jobs (created_at);

CREATE TABLE IF NOT EXISTS job_events (
	id          BIGSERIAL PRIMARY KEY,
	job_id      UUID NOT NULL REFERENCES jobs (id),
	at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	from_status TEXT,
	to_status   TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	meta_json   TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS job_events_job_id_idx ON job_events (job_id);

CREATE TABLE IF NOT EXISTS sync_records (
	id          UUID PRIMARY KEY,
	source_path TEXT NOT NULL,
	target_path TEXT NOT NULL,
	status      TEXT NOT NULL,
	output      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
