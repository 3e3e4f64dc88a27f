// Package spatialdbtest provides an in-memory spatialdb.Executor that records
// statements and tracks which tables have been created or dropped.
package spatialdbtest

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/sells-group/connectivity-cli/internal/db"
	"github.com/sells-group/connectivity-cli/internal/spatialdb"
)

var (
	createRe = regexp.MustCompile(`(?i)CREATE TABLE (?:IF NOT EXISTS )?("[^"]+"\."[^"]+")`)
	dropRe   = regexp.MustCompile(`(?i)DROP TABLE (?:IF EXISTS )?("[^"]+"\."[^"]+")`)
)

// Executor is a fake spatialdb.Executor.
type Executor struct {
	mu         sync.Mutex
	tables     map[string]bool
	Statements []string
	Queries    []string
	Copies     []spatialdb.CSVSource

	// CopyRows is returned by CopyCSV.
	CopyRows int64
	// ExecErr, when set, is consulted before each Exec.
	ExecErr func(sql string) error
	// QueryFunc answers QueryText. The default returns "".
	QueryFunc func(sql string) (string, error)
}

var _ spatialdb.Executor = (*Executor)(nil)

// New returns a fake with the given tables already present.
func New(existing ...db.Table) *Executor {
	e := &Executor{tables: make(map[string]bool)}
	for _, t := range existing {
		e.tables[t.Ident()] = true
	}
	return e
}

// Exec records sql and applies any DROP TABLE / CREATE TABLE it contains, in
// statement order.
func (e *Executor) Exec(_ context.Context, sql string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ExecErr != nil {
		if err := e.ExecErr(sql); err != nil {
			return err
		}
	}
	e.Statements = append(e.Statements, sql)

	for _, stmt := range strings.Split(sql, ";") {
		if m := dropRe.FindStringSubmatch(stmt); m != nil {
			delete(e.tables, m[1])
		}
		if m := createRe.FindStringSubmatch(stmt); m != nil {
			e.tables[m[1]] = true
		}
	}
	return nil
}

// TableExists reports tables created so far.
func (e *Executor) TableExists(_ context.Context, table db.Table) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tables[table.Ident()], nil
}

// QueryText records sql and delegates to QueryFunc.
func (e *Executor) QueryText(_ context.Context, sql string) (string, error) {
	e.mu.Lock()
	e.Queries = append(e.Queries, sql)
	fn := e.QueryFunc
	e.mu.Unlock()

	if fn == nil {
		return "", nil
	}
	return fn(sql)
}

// CopyCSV records src.
func (e *Executor) CopyCSV(_ context.Context, src spatialdb.CSVSource) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Copies = append(e.Copies, src)
	return e.CopyRows, nil
}

// Has reports whether table currently exists.
func (e *Executor) Has(table db.Table) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tables[table.Ident()]
}

// SQL returns every executed statement joined by newlines.
func (e *Executor) SQL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.Statements, "\n")
}
