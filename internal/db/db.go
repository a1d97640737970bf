// Package db opens the off-chain mirror database.
package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// Open opens the mirror store for driver (sqlite or postgres).
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case SQLite:
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// sqlite serializes writers; one connection avoids SQLITE_BUSY under the outbox workers.
		conn.SetMaxOpenConns(1)
		return conn, nil
	case Postgres:
		return sql.Open("pgx", dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// SQLitePath builds a sqlite DSN for a file with foreign keys on.
func SQLitePath(path string) string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
}

// Rebind rewrites ? placeholders to $n for postgres.
func Rebind(driver, query string) string {
	if driver != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
