// internal/output/types.go

// Package output holds host-side consumers of job progress: an NDJSON event
// log and a SQL catalog of downloaded assets.
package output

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/valpere/MediaScrapexter/internal/progress"
)

// Writer consumes progress events
type Writer interface {
	WriteEvent(ev progress.Event) error
	Close() error
}

// Dialect is a SQL driver name accepted by the catalog
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ValidDialects returns all supported catalog drivers
func ValidDialects() []Dialect {
	return []Dialect{DialectSQLite, DialectPostgres, DialectMySQL}
}

// DefaultTablePrefix names the catalog tables when no prefix is configured
const DefaultTablePrefix = "mmse"

// Database-specific identifier limits
const (
	MaxPostgreSQLIdentifierLength = 63
	MaxMySQLIdentifierLength      = 64
	MaxSQLiteIdentifierLength     = 999
)

var sqlIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseDialect normalises a driver name; "sqlite" and "postgresql" are
// accepted as aliases
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	}
	return "", fmt.Errorf("unsupported catalog driver %q", s)
}

// ValidateSQLIdentifier checks that identifier is safe to splice into DDL
// for the dialect
func ValidateSQLIdentifier(identifier string, dialect Dialect) error {
	if identifier == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	limit := MaxSQLiteIdentifierLength
	switch dialect {
	case DialectPostgres:
		limit = MaxPostgreSQLIdentifierLength
	case DialectMySQL:
		limit = MaxMySQLIdentifierLength
	}
	if len(identifier) > limit {
		return fmt.Errorf("identifier too long (max %d characters): %s", limit, identifier)
	}

	if !sqlIdentifierRegex.MatchString(identifier) {
		return fmt.Errorf("invalid identifier format: %s", identifier)
	}
	return nil
}
