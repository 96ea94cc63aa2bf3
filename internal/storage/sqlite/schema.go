package sqlite

const schemaSQL = `
-- Ingestion jobs, one row per uploaded document.
-- The single source of truth for pipeline status.
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_size INTEGER NOT NULL DEFAULT 0,
	content_type TEXT,
	blob_key TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	progress INTEGER NOT NULL DEFAULT 0,
	total_chunks INTEGER,
	processed_chunks INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);

-- Chunks, one row per text segment produced from a job.
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs(job_id),
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	vector_id INTEGER,
	error_message TEXT,
	UNIQUE(job_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_job_id ON chunks(job_id);
CREATE INDEX IF NOT EXISTS idx_chunks_content_hash ON chunks(content_hash);
`
