package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"medsafe/config"
	"medsafe/core/utils"
)

var ErrConflict = errors.New("conflict")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// activeDriver drives placeholder rebinding; stores write queries with `?`
// and rebind converts them to $1..$n for postgres.
var activeDriver = DriverSQLite

func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch driver {
	case "", DriverSQLite, "sqlite3":
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", cfg.DBPath)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// modernc sqlite serializes writes; a single writer connection
		// avoids SQLITE_BUSY under concurrent appends.
		db.SetMaxOpenConns(1)
		activeDriver = DriverSQLite
		if logger != nil {
			logger.Printf("store: sqlite database at %s", cfg.DBPath)
		}
		return db, nil
	case DriverPostgres, "pgx":
		db, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, err
		}
		activeDriver = DriverPostgres
		if logger != nil {
			logger.Printf("store: postgres database")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

func Driver() string {
	return activeDriver
}

// rebind converts `?` placeholders to the postgres `$n` form when needed.
// Queries in this package never embed literal question marks.
func rebind(query string) string {
	if activeDriver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
