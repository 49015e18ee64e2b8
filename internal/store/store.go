// Package store reads materialized query results from the worker's local
// SQLite store. The engine (or the developer, in dev mode) populates the
// store; this package only ever reads it.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"tally/internal/util"

	_ "modernc.org/sqlite"
)

// resultsTable is the single table the engine materializes into the store.
const resultsTable = "results"

// AccessError reports a store that could not be opened or read. The worker
// maps it to the generic failure exit code.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Path, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Row is one row of the results table. Values are driver-native (int64,
// float64, string, []byte or nil) and keep the store's column order, which
// also becomes the key order of the serialized artifact.
type Row struct {
	Columns []string
	Values  []any
}

// MarshalJSON renders the row as an object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Value returns the value for a column name, if present.
func (r Row) Value(col string) (any, bool) {
	for i, name := range r.Columns {
		if name == col {
			return r.Values[i], true
		}
	}
	return nil, false
}

// FetchResults opens the store at dbPath, reads every row of the results
// table and closes the store again. The connection lives only for the
// duration of the call. An empty table yields an empty slice; a store that
// cannot be opened or has no results table yields an AccessError.
func FetchResults(ctx context.Context, dbPath string) ([]Row, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, &AccessError{Path: dbPath, Err: err}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, &AccessError{Path: dbPath, Err: err}
	}
	defer util.CloseWithErr(db, "store")

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+resultsTable)
	if err != nil {
		return nil, &AccessError{Path: dbPath, Err: err}
	}
	defer util.CloseWithErr(rows, "result rows")

	cols, err := rows.Columns()
	if err != nil {
		return nil, &AccessError{Path: dbPath, Err: err}
	}
	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		scanArgs := make([]any, len(cols))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, &AccessError{Path: dbPath, Err: err}
		}
		out = append(out, Row{Columns: cols, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, &AccessError{Path: dbPath, Err: err}
	}
	return out, nil
}
