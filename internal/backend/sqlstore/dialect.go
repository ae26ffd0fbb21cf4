package sqlstore

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the few places SQLite and PostgreSQL disagree. Queries
// use $n placeholders, which both drivers accept as long as each query
// introduces them in ascending order.
type Dialect struct {
	Name   string
	Driver string
	// LikeOp is the case-insensitive LIKE operator.
	LikeOp string
	Schema []string
	// Notifies is true when the database itself publishes inserted
	// messages (PostgreSQL trigger + NOTIFY).
	Notifies bool
}

// NotifyChannel is the PostgreSQL channel the insert trigger publishes on.
const NotifyChannel = "supachat_messages"

var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite3",
	LikeOp: "LIKE",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			avatar_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user1 TEXT NOT NULL,
			user2 TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS threads_pair_idx ON threads (min(user1, user2), max(user1, user2))`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id INTEGER NOT NULL REFERENCES threads(id),
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_thread_idx ON messages (thread_id, created_at)`,
	},
}

var Postgres = Dialect{
	Name:     "postgres",
	Driver:   "postgres",
	LikeOp:   "ILIKE",
	Notifies: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			avatar_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			id BIGSERIAL PRIMARY KEY,
			user1 TEXT NOT NULL,
			user2 TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS threads_pair_idx ON threads (LEAST(user1, user2), GREATEST(user1, user2))`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			thread_id BIGINT NOT NULL REFERENCES threads(id),
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_thread_idx ON messages (thread_id, created_at)`,
		`CREATE OR REPLACE FUNCTION supachat_notify_message() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('` + NotifyChannel + `', row_to_json(NEW)::text);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS messages_notify ON messages`,
		`CREATE TRIGGER messages_notify AFTER INSERT ON messages
			FOR EACH ROW EXECUTE FUNCTION supachat_notify_message()`,
	},
}

// DialectFor picks the dialect from the data source name: postgres:// and
// postgresql:// URLs use PostgreSQL, anything else is a SQLite file path.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// escapeLike escapes LIKE wildcards so the term matches literally.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}
