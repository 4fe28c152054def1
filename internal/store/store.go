// Package store implements the durable relational schema behind spec.md §3:
// users, fiches, threads, thread_messages, courses, course_events,
// commis_jobs, commis_barriers, runners, runner_jobs, job_queue, triggers,
// and device_tokens, on top of database/sql so the same query layer runs
// against either modernc.org/sqlite (single-node) or jackc/pgx/v5's stdlib
// adapter (multi-process PostgreSQL), mirroring haowjy-meridian's
// repository-over-connection-pool layering but kept driver-agnostic because
// spec.md requires both.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect distinguishes the two supported backends. Query text is shared
// wherever standard SQL suffices; dialect-specific branches are confined to
// migrate.go (DDL) and jobqueue claim queries (FOR UPDATE SKIP LOCKED has no
// SQLite equivalent).
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store wraps a database/sql handle and the dialect it was opened with.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// Open opens the database and applies the schema if it is not already
// present. driver is "sqlite" or "postgres"; dsn is the connection string
// (a file path or ":memory:" for sqlite, a postgres:// URL for postgres).
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var dialect Dialect
	var sqlDriver string
	switch driver {
	case "sqlite":
		dialect = DialectSQLite
		sqlDriver = "sqlite"
	case "postgres":
		dialect = DialectPostgres
		sqlDriver = "pgx"
	default:
		return nil, fmt.Errorf("store: unknown driver %q (want sqlite or postgres)", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	if dialect == DialectSQLite {
		// SQLite has no true concurrent writers; serialize on a single
		// connection so transactions (including the job queue claim path,
		// see jobqueue.go) cannot interleave and deadlock.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}

	s := &Store{DB: db, Dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.DB.Close() }

// rebind converts a query written with `?` placeholders into the target
// dialect's placeholder syntax ($1, $2, ... for postgres), so most query
// text lives once regardless of backend.
func (s *Store) rebind(query string) string {
	if s.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.DB.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.DB.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.DB.QueryRowContext(ctx, s.rebind(query), args...)
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. Callers that open a Store against SQLite should include
// `_txlock=immediate` in the DSN passed to Open so these
// transactions serialize as BEGIN IMMEDIATE instead of hitting SQLITE_BUSY
// under contention; Postgres relies on FOR UPDATE SKIP LOCKED for claim-time
// concurrency control instead (see jobqueue.go).
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nowUTC() time.Time { return time.Now().UTC() }
