// Package sqlsource implements a DB-poll Source: each poll atomically claims
// the oldest row of a queue table and yields its payload. It works against
// any database/sql driver whose dialect supports DELETE ... RETURNING
// (postgres via jackc/pgx stdlib, sqlite, cockroach).
package sqlsource

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/pacerio/pacer/pkg/failfast"
)

// Options configures a Source.
type Options struct {
	// Table is the queue table. Required. It needs an ordered integer
	// primary key column and a payload column.
	Table string
	// IDColumn defaults to "id".
	IDColumn string
	// PayloadColumn defaults to "payload".
	PayloadColumn string
}

// Source claims rows from a queue table one at a time.
type Source struct {
	db    *sql.DB
	claim string
}

// New creates a Source over db. The claim statement is built once; the
// delete-returning form makes claiming atomic, so multiple pacer processes
// can share one table without double-dispatching a row.
func New(db *sql.DB, opts Options) (*Source, error) {
	failfast.NotNil(db, "db")
	if opts.Table == "" {
		return nil, fmt.Errorf("sqlsource: table is required")
	}
	if opts.IDColumn == "" {
		opts.IDColumn = "id"
	}
	if opts.PayloadColumn == "" {
		opts.PayloadColumn = "payload"
	}

	claim := fmt.Sprintf(
		"DELETE FROM %s WHERE %s = (SELECT %s FROM %s ORDER BY %s LIMIT 1) RETURNING %s",
		opts.Table, opts.IDColumn, opts.IDColumn, opts.Table, opts.IDColumn, opts.PayloadColumn,
	)
	return &Source{db: db, claim: claim}, nil
}

// TryNext claims the oldest queued row. An empty table reports empty, not
// an error.
func (s *Source) TryNext() (interface{}, bool, error) {
	var payload string
	err := s.db.QueryRow(s.claim).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlsource: claim row: %w", err)
	}
	return payload, true, nil
}
