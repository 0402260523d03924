package postgres

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scan_sessions (
		scan_id       BIGSERIAL PRIMARY KEY,
		status        TEXT NOT NULL,
		reason        TEXT NOT NULL DEFAULT '',
		full_scan     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL,
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ,
		deadline      TIMESTAMPTZ NOT NULL,
		jobs_total    INTEGER NOT NULL,
		jobs_done     INTEGER NOT NULL DEFAULT 0,
		jobs_failed   INTEGER NOT NULL DEFAULT 0,
		new_count     INTEGER NOT NULL DEFAULT 0,
		updated_count INTEGER NOT NULL DEFAULT 0,
		deleted_count INTEGER NOT NULL DEFAULT 0,
		CONSTRAINT scan_sessions_jobs_settled CHECK (jobs_done + jobs_failed <= jobs_total)
	)`,
	`CREATE INDEX IF NOT EXISTS scan_sessions_active_idx
		ON scan_sessions (scan_id) WHERE status IN ('pending', 'running')`,

	`CREATE TABLE IF NOT EXISTS entity_snapshots (
		entity_id         TEXT PRIMARY KEY,
		fields            JSONB NOT NULL,
		fingerprint       TEXT NOT NULL,
		last_seen_scan_id BIGINT NOT NULL,
		lifecycle_scan_id BIGINT NOT NULL,
		active            BOOLEAN NOT NULL,
		version           BIGINT NOT NULL,
		first_seen_at     TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS entity_snapshots_unseen_idx
		ON entity_snapshots (entity_id, last_seen_scan_id) WHERE active`,

	`CREATE TABLE IF NOT EXISTS change_records (
		seq          BIGSERIAL PRIMARY KEY,
		change_id    TEXT NOT NULL UNIQUE,
		scan_id      BIGINT NOT NULL REFERENCES scan_sessions (scan_id),
		entity_id    TEXT NOT NULL,
		change_type  TEXT NOT NULL,
		field_name   TEXT NOT NULL DEFAULT '',
		old_value    TEXT,
		new_value    TEXT,
		change_score DOUBLE PRECISION NOT NULL,
		detected_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS change_records_entity_idx ON change_records (entity_id, detected_at, seq)`,
	`CREATE INDEX IF NOT EXISTS change_records_scan_idx ON change_records (scan_id, detected_at, seq)`,
	// At most one new/deleted record per entity and scan.
	`CREATE UNIQUE INDEX IF NOT EXISTS change_records_lifecycle_uniq
		ON change_records (entity_id, scan_id) WHERE change_type IN ('new', 'deleted')`,
}
