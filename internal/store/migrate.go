package store

import "context"

// migrate applies the full schema. There is deliberately no migration
// framework (golang-migrate etc. appear nowhere in the pack): this runs a
// single idempotent `CREATE TABLE IF NOT EXISTS` + `CREATE INDEX IF NOT
// EXISTS` script, which is sufficient for a schema that grows by addition.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.schemaStatements() {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) schemaStatements() []string {
	if s.Dialect == DialectPostgres {
		return postgresSchema
	}
	return sqliteSchema
}

// jsonType is the column type used for free-form JSON payloads: postgres
// gets JSONB for indexability, sqlite stores it as TEXT (modernc.org/sqlite
// has no native JSON type; the column is parsed/marshaled at the Go layer).
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'USER',
		provider TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fiches (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		system_instructions TEXT NOT NULL DEFAULT '',
		task_instructions TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		reasoning_effort TEXT NOT NULL DEFAULT '',
		allowed_tools TEXT NOT NULL DEFAULT '[]',
		config TEXT NOT NULL DEFAULT '{}',
		schedule_cron TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		is_concierge INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(owner_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fiches_owner ON fiches(owner_id)`,
	`CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		fiche_id TEXT NOT NULL REFERENCES fiches(id),
		owner_id TEXT NOT NULL REFERENCES users(id),
		type TEXT NOT NULL,
		fiche_state BLOB,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_threads_fiche ON threads(fiche_id)`,
	`CREATE TABLE IF NOT EXISTS thread_messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT NOT NULL DEFAULT '[]',
		tool_call_id TEXT NOT NULL DEFAULT '',
		processed INTEGER NOT NULL DEFAULT 0,
		assistant_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread_created ON thread_messages(thread_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		fiche_id TEXT NOT NULL REFERENCES fiches(id),
		thread_id TEXT NOT NULL REFERENCES threads(id),
		owner_id TEXT NOT NULL REFERENCES users(id),
		status TEXT NOT NULL,
		trigger TEXT NOT NULL,
		trace_id TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		total_cost_usd REAL NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		continuation_of_course_id TEXT NOT NULL DEFAULT '',
		UNIQUE(continuation_of_course_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_courses_owner ON courses(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_courses_thread ON courses(thread_id)`,
	`CREATE TABLE IF NOT EXISTS course_events (
		course_id TEXT NOT NULL REFERENCES courses(id),
		seq INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (course_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS commis_jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		concierge_course_id TEXT NOT NULL REFERENCES courses(id),
		task TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		execution_mode TEXT NOT NULL DEFAULT 'plain',
		git_repo TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'created',
		commis_id TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL,
		result_summary TEXT NOT NULL DEFAULT '',
		artifacts TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_commis_jobs_course ON commis_jobs(concierge_course_id)`,
	`CREATE TABLE IF NOT EXISTS commis_barriers (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL UNIQUE REFERENCES courses(id),
		job_ids TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS runners (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		auth_secret_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'offline',
		last_heartbeat TIMESTAMP,
		UNIQUE(owner_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS runner_jobs (
		id TEXT PRIMARY KEY,
		runner_id TEXT NOT NULL REFERENCES runners(id),
		owner_id TEXT NOT NULL REFERENCES users(id),
		command TEXT NOT NULL,
		timeout_secs INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		stdout_tail TEXT NOT NULL DEFAULT '',
		stderr_tail TEXT NOT NULL DEFAULT '',
		exit_code INTEGER,
		worker_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runner_jobs_runner ON runner_jobs(runner_id)`,
	`CREATE TABLE IF NOT EXISTS job_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		scheduled_for TIMESTAMP NOT NULL,
		dedupe_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 1,
		lease_owner TEXT NOT NULL DEFAULT '',
		lease_expires_at TIMESTAMP,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE(job_id, dedupe_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_queue_claim ON job_queue(status, scheduled_for)`,
	`CREATE TABLE IF NOT EXISTS triggers (
		id TEXT PRIMARY KEY,
		fiche_id TEXT NOT NULL REFERENCES fiches(id),
		type TEXT NOT NULL,
		secret_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS device_tokens (
		owner_id TEXT NOT NULL REFERENCES users(id),
		device_id TEXT NOT NULL,
		hashed_token TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (owner_id, device_id)
	)`,
}

// postgresSchema mirrors sqliteSchema with JSONB/BOOLEAN/BIGSERIAL in place
// of sqlite's TEXT/INTEGER affinities.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'USER',
		provider TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fiches (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		system_instructions TEXT NOT NULL DEFAULT '',
		task_instructions TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		reasoning_effort TEXT NOT NULL DEFAULT '',
		allowed_tools JSONB NOT NULL DEFAULT '[]',
		config JSONB NOT NULL DEFAULT '{}',
		schedule_cron TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		is_concierge BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(owner_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fiches_owner ON fiches(owner_id)`,
	`CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		fiche_id TEXT NOT NULL REFERENCES fiches(id),
		owner_id TEXT NOT NULL REFERENCES users(id),
		type TEXT NOT NULL,
		fiche_state BYTEA,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_threads_fiche ON threads(fiche_id)`,
	`CREATE TABLE IF NOT EXISTS thread_messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls JSONB NOT NULL DEFAULT '[]',
		tool_call_id TEXT NOT NULL DEFAULT '',
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		assistant_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread_created ON thread_messages(thread_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		fiche_id TEXT NOT NULL REFERENCES fiches(id),
		thread_id TEXT NOT NULL REFERENCES threads(id),
		owner_id TEXT NOT NULL REFERENCES users(id),
		status TEXT NOT NULL,
		trigger TEXT NOT NULL,
		trace_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		continuation_of_course_id TEXT NOT NULL DEFAULT '',
		UNIQUE(continuation_of_course_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_courses_owner ON courses(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_courses_thread ON courses(thread_id)`,
	`CREATE TABLE IF NOT EXISTS course_events (
		course_id TEXT NOT NULL REFERENCES courses(id),
		seq BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (course_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS commis_jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		concierge_course_id TEXT NOT NULL REFERENCES courses(id),
		task TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		execution_mode TEXT NOT NULL DEFAULT 'plain',
		git_repo TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'created',
		commis_id TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL,
		result_summary TEXT NOT NULL DEFAULT '',
		artifacts TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_commis_jobs_course ON commis_jobs(concierge_course_id)`,
	`CREATE TABLE IF NOT EXISTS commis_barriers (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL UNIQUE REFERENCES courses(id),
		job_ids JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS runners (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		auth_secret_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'offline',
		last_heartbeat TIMESTAMPTZ,
		UNIQUE(owner_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS runner_jobs (
		id TEXT PRIMARY KEY,
		runner_id TEXT NOT NULL REFERENCES runners(id),
		owner_id TEXT NOT NULL REFERENCES users(id),
		command TEXT NOT NULL,
		timeout_secs INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		stdout_tail TEXT NOT NULL DEFAULT '',
		stderr_tail TEXT NOT NULL DEFAULT '',
		exit_code INTEGER,
		worker_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runner_jobs_runner ON runner_jobs(runner_id)`,
	`CREATE TABLE IF NOT EXISTS job_queue (
		id BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL,
		scheduled_for TIMESTAMPTZ NOT NULL,
		dedupe_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 1,
		lease_owner TEXT NOT NULL DEFAULT '',
		lease_expires_at TIMESTAMPTZ,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(job_id, dedupe_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_queue_claim ON job_queue(status, scheduled_for)`,
	`CREATE TABLE IF NOT EXISTS triggers (
		id TEXT PRIMARY KEY,
		fiche_id TEXT NOT NULL REFERENCES fiches(id),
		type TEXT NOT NULL,
		secret_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS device_tokens (
		owner_id TEXT NOT NULL REFERENCES users(id),
		device_id TEXT NOT NULL,
		hashed_token TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (owner_id, device_id)
	)`,
}
