package store

// Schema is the full DDL, applied idempotently on every Open.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	id                   TEXT PRIMARY KEY,
	case_id              TEXT NOT NULL DEFAULT '',
	role                 TEXT NOT NULL DEFAULT 'other',
	source_path          TEXT NOT NULL DEFAULT '',
	total_pages          INTEGER NOT NULL DEFAULT 0,
	ocr_state            TEXT NOT NULL DEFAULT 'pending',
	first_batch_ready    INTEGER NOT NULL DEFAULT 0,
	first_batch_ready_at TEXT,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pages (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	page_number INTEGER NOT NULL,
	text        TEXT NOT NULL DEFAULT '',
	confidence  REAL NOT NULL DEFAULT 0,
	checksum    TEXT NOT NULL DEFAULT '',
	engine      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	words       TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (document_id, page_number)
);

CREATE TABLE IF NOT EXISTS batches (
	document_id    TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	start_page     INTEGER NOT NULL,
	end_page       INTEGER NOT NULL,
	status         TEXT NOT NULL DEFAULT 'queued',
	pages_done     INTEGER NOT NULL DEFAULT 0,
	avg_confidence REAL NOT NULL DEFAULT 0,
	started_at     TEXT,
	completed_at   TEXT,
	error          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (document_id, start_page, end_page),
	CHECK (pages_done >= 0 AND pages_done <= end_page - start_page + 1)
);

CREATE TABLE IF NOT EXISTS index_items (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	ordinal     INTEGER,
	label       TEXT NOT NULL,
	raw_line    TEXT NOT NULL,
	page_hint   INTEGER NOT NULL,
	confidence  REAL NOT NULL,
	ref_type    TEXT NOT NULL,
	PRIMARY KEY (document_id, position)
);

CREATE TABLE IF NOT EXISTS decisions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	source_document  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	source_page      INTEGER NOT NULL,
	ref_type         TEXT NOT NULL,
	ref_value        TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	destination_page INTEGER,
	trial_record_id  TEXT NOT NULL,
	reason           TEXT NOT NULL DEFAULT '',
	snippet          TEXT NOT NULL DEFAULT '',
	rects            TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_source ON decisions(source_document, source_page);
CREATE INDEX IF NOT EXISTS idx_decisions_ref ON decisions(trial_record_id, ref_type, ref_value);

CREATE TABLE IF NOT EXISTS overrides (
	trial_record_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	ref_type        TEXT NOT NULL,
	ref_value       TEXT NOT NULL,
	page            INTEGER NOT NULL,
	updated_at      TEXT NOT NULL,
	PRIMARY KEY (trial_record_id, ref_type, ref_value)
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	job_type     TEXT NOT NULL,
	document_id  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	started_at   TEXT,
	completed_at TEXT,
	error        TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_jobs_document ON jobs(document_id, job_type);
`
