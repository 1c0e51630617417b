package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type migration struct {
	version int
	sql     string
}

// migrations must be sequential starting from 1. {{blob}} is replaced with
// the driver's binary column type.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	account      TEXT NOT NULL,
	thread_id    TEXT NOT NULL DEFAULT '',
	sender       TEXT NOT NULL DEFAULT '',
	recipient    TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL DEFAULT '',
	snippet      TEXT NOT NULL DEFAULT '',
	received_at  TIMESTAMP NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	importance   INTEGER NOT NULL DEFAULT 0,
	action       TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT '',
	deep_summary TEXT NOT NULL DEFAULT '',
	agent_output TEXT NOT NULL DEFAULT '',
	history_id   BIGINT NOT NULL DEFAULT 0,
	processed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_account_history ON messages (account, history_id);
CREATE INDEX IF NOT EXISTS idx_messages_received ON messages (received_at);

CREATE TABLE IF NOT EXISTS raw_messages (
	id         TEXT PRIMARY KEY,
	payload    {{blob}} NOT NULL,
	fetched_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	message_id    TEXT NOT NULL,
	kind          TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	target_at     TIMESTAMP NOT NULL,
	scheduled_for TIMESTAMP NOT NULL,
	sent          BOOLEAN NOT NULL DEFAULT FALSE,
	account       TEXT NOT NULL DEFAULT '',
	thread_id     TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	UNIQUE (message_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks (sent, scheduled_for);

CREATE TABLE IF NOT EXISTS contacts (
	address       TEXT PRIMARY KEY,
	profile       TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	first_seen    TIMESTAMP NOT NULL,
	last_seen     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_cursors (
	account    TEXT PRIMARY KEY,
	watermark  BIGINT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`,
	},
}

// Open connects to driver/dsn and applies outstanding migrations.
func Open(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", driver, err)
	}

	if driver == DriverSQLite {
		// A :memory: database exists per connection.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("applying %q: %w", pragma, err)
			}
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s db: %w", driver, err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	var current int
	if err := db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	blob := "BLOB"
	if db.DriverName() == DriverPostgres {
		blob = "BYTEA"
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := db.Exec(strings.ReplaceAll(m.sql, "{{blob}}", blob)); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := db.Exec(db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// ts normalizes times before they are written or compared. SQLite stores
// times as text, so every value must share one zone and precision.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
