package store

import (
	"fmt"
	"strconv"
	"strings"

	"RoleplayChat/internal/config"
)

// dialect carries the SQL differences between the supported drivers.
type dialect struct {
	name string

	// schema is run statement by statement on every Open.
	schema []string

	// lockSession, when set, serializes seeding of one session inside a transaction.
	lockSession string

	// numbered placeholders ($1, $2) instead of ?.
	numbered bool
}

var sqliteDialect = dialect{
	name: config.DriverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)`,
	},
}

var postgresDialect = dialect{
	name: config.DriverPostgres,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)`,
	},
	lockSession: `SELECT pg_advisory_xact_lock(hashtext(?))`,
	numbered:    true,
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case config.DriverSQLite:
		return sqliteDialect, nil
	case config.DriverPostgres:
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported driver: %s", driver)
	}
}

// rebind rewrites ? placeholders for drivers that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

// sqliteParams are the connection parameters the store relies on:
// WAL for concurrent readers, a busy timeout instead of immediate SQLITE_BUSY,
// and immediate transactions so seeding takes the write lock up front.
// Each entry lists the go-sqlite3 spellings of the key.
var sqliteParams = []struct {
	keys  []string
	value string
}{
	{[]string{"_journal_mode", "_journal"}, "WAL"},
	{[]string{"_busy_timeout", "_timeout"}, "5000"},
	{[]string{"_txlock"}, "immediate"},
}

// sqliteDSN appends whichever of sqliteParams the DSN does not already set.
// Values given explicitly are kept.
func sqliteDSN(dsn string) string {
	_, query, hasQuery := strings.Cut(dsn, "?")
	set := make(map[string]bool)
	for _, kv := range strings.Split(query, "&") {
		if k, _, _ := strings.Cut(kv, "="); k != "" {
			set[k] = true
		}
	}

	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if hasQuery {
		sep = "&"
		if strings.HasSuffix(dsn, "?") || strings.HasSuffix(dsn, "&") {
			sep = ""
		}
	}
	for _, p := range sqliteParams {
		present := false
		for _, k := range p.keys {
			present = present || set[k]
		}
		if present {
			continue
		}
		b.WriteString(sep)
		b.WriteString(p.keys[0])
		b.WriteByte('=')
		b.WriteString(p.value)
		sep = "&"
	}
	return b.String()
}
