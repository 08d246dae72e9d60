package approvals

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies which SQL database the persistent store targets.
// Differences between them are confined to this file's rebind()
// helper and ensureSchema()'s column types, plus the audit_cache upsert
// clause in persistent.go's upsertAuditCache, per spec.md §9's "tiny
// query-builder" design note.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// DatabaseConfig resolves SWITCHBOARD_DATABASE_URL into a driver name,
// DSN, and dialect, grounded on the teacher's internal/audit/store.go
// NewStore() DSN-resolution idiom.
type DatabaseConfig struct {
	Driver  string
	DSN     string
	Dialect Dialect
}

const defaultSQLiteDSN = "data/switchboard.db"

// DatabaseConfigFromEnv reads SWITCHBOARD_DATABASE_URL, defaulting to a
// local SQLite file when unset.
func DatabaseConfigFromEnv() DatabaseConfig {
	url := os.Getenv("SWITCHBOARD_DATABASE_URL")
	if url == "" {
		return DatabaseConfig{Driver: "sqlite", DSN: defaultSQLiteDSN, Dialect: DialectSQLite}
	}
	switch {
	case strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://"):
		return DatabaseConfig{Driver: "pgx", DSN: url, Dialect: DialectPostgres}
	case strings.HasPrefix(url, "sqlite://"):
		return DatabaseConfig{Driver: "sqlite", DSN: strings.TrimPrefix(url, "sqlite://"), Dialect: DialectSQLite}
	default:
		return DatabaseConfig{Driver: "sqlite", DSN: url, Dialect: DialectSQLite}
	}
}

// Open connects and ensures the approvals/audit_cache schema exists.
func Open(cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("approvals: open %s: %w", cfg.Driver, err)
	}
	if cfg.Dialect == DialectSQLite {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("approvals: enable WAL: %w", err)
		}
	}
	if err := ensureSchema(db, cfg.Dialect); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// rebind rewrites "?" placeholders into the target dialect's syntax.
// Postgres uses $1, $2, ...; SQLite's driver accepts "?" directly.
// Grounded on the teacher's internal/audit/store.go rebind() helper,
// which is the one piece of dual-dialect handling the teacher applies
// consistently (its own approval_store.go, by contrast, is SQLite-only —
// that gap is exactly what this function closes for the approval store).
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
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

func ensureSchema(db *sql.DB, dialect Dialect) error {
	var pk, timestampDefault string
	if dialect == DialectPostgres {
		pk = "TEXT PRIMARY KEY"
		timestampDefault = "TIMESTAMPTZ DEFAULT NOW()"
	} else {
		pk = "TEXT PRIMARY KEY"
		timestampDefault = "TEXT DEFAULT CURRENT_TIMESTAMP"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS approvals (
			approval_id %s,
			request_json TEXT NOT NULL,
			policy_json TEXT NOT NULL,
			adapter TEXT NOT NULL,
			status TEXT NOT NULL,
			decided_by TEXT,
			decided_at TEXT,
			notes TEXT,
			created_at %s,
			updated_at %s
		)`, pk, timestampDefault, timestampDefault),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_cache (
			event_id %s,
			approval_id TEXT,
			record_json TEXT NOT NULL,
			created_at %s
		)`, pk, timestampDefault),
		`CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_cache_approval_id ON audit_cache(approval_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("approvals: ensure schema: %w", err)
		}
	}
	return nil
}
