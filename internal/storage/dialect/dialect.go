// Package dialect holds the SQL differences between the embedded SQLite store
// and a hosted Postgres database.
package dialect

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// DialectType names a supported database flavor.
type DialectType string

const (
	SQLite   DialectType = "sqlite"
	Postgres DialectType = "postgres"
)

// Dialect is consumed by sqldb when it builds schema and queries.
type Dialect interface {
	Name() string
	DriverName() string
	// Rebind converts ? placeholders to the driver's bind style.
	Rebind(query string) string
	BooleanType() string
	TimestampType() string
	TextType() string
	FloatType() string
	// UpsertClause returns the ON CONFLICT tail for an INSERT. An empty
	// column list yields DO NOTHING.
	UpsertClause(conflict string, update []string) string
	// PragmaStatements run once after the connection opens.
	PragmaStatements() []string
}

// flavor is a table-driven Dialect.
type flavor struct {
	name     string
	driver   string
	bindType int
	types    columnTypes
	pragmas  []string

	// upsert formatting differs only in spacing and the excluded alias
	conflictFmt string
	assignFmt   string
}

type columnTypes struct {
	boolean, timestamp, text, float string
}

var flavors = map[DialectType]*flavor{
	SQLite: {
		name:     "sqlite",
		driver:   "sqlite",
		bindType: sqlx.QUESTION,
		types:    columnTypes{"INTEGER", "TIMESTAMP", "TEXT", "REAL"},
		pragmas: []string{
			"PRAGMA foreign_keys = ON",
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
		},
		conflictFmt: "ON CONFLICT(%s)",
		assignFmt:   "%[1]s=excluded.%[1]s",
	},
	Postgres: {
		name:        "postgres",
		driver:      "pgx",
		bindType:    sqlx.DOLLAR,
		types:       columnTypes{"BOOLEAN", "TIMESTAMPTZ", "TEXT", "DOUBLE PRECISION"},
		conflictFmt: "ON CONFLICT (%s)",
		assignFmt:   "%[1]s = EXCLUDED.%[1]s",
	},
}

// driverAliases maps database/sql driver names onto a flavor.
var driverAliases = map[string]DialectType{
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
	"postgres":   Postgres,
	"postgresql": Postgres,
	"pgx":        Postgres,
}

// New returns the dialect for t.
func New(t DialectType) (Dialect, error) {
	f, ok := flavors[t]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q", t)
	}
	return f, nil
}

// FromDriverName resolves a configured driver name, case-insensitively.
func FromDriverName(driver string) (Dialect, error) {
	t, ok := driverAliases[strings.ToLower(strings.TrimSpace(driver))]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	return New(t)
}

func (f *flavor) Name() string          { return f.name }
func (f *flavor) DriverName() string    { return f.driver }
func (f *flavor) BooleanType() string   { return f.types.boolean }
func (f *flavor) TimestampType() string { return f.types.timestamp }
func (f *flavor) TextType() string      { return f.types.text }
func (f *flavor) FloatType() string     { return f.types.float }

func (f *flavor) Rebind(query string) string {
	return sqlx.Rebind(f.bindType, query)
}

func (f *flavor) UpsertClause(conflict string, update []string) string {
	head := fmt.Sprintf(f.conflictFmt, conflict)
	if len(update) == 0 {
		return head + " DO NOTHING"
	}
	sets := make([]string, len(update))
	for i, col := range update {
		sets[i] = fmt.Sprintf(f.assignFmt, col)
	}
	return head + " DO UPDATE SET " + strings.Join(sets, ", ")
}

func (f *flavor) PragmaStatements() []string {
	if len(f.pragmas) == 0 {
		return nil
	}
	return append([]string(nil), f.pragmas...)
}
