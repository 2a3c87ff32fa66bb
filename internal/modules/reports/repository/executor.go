// Package repository runs report queries against the reporting database and
// hands their result sets back in fixed-size chunks.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"io"

	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/domain"
)

// Queryer is the slice of *sql.DB the executor needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// QueryExecutor issues report queries on a single connection.
type QueryExecutor struct {
	db Queryer
}

// NewQueryExecutor runs report queries on db. The executor never closes db;
// the caller owns the connection.
func NewQueryExecutor(db Queryer) *QueryExecutor {
	return &QueryExecutor{db: db}
}

// Execute runs the query and returns a reader positioned before the first
// chunk. The caller must Close the reader.
func (e *QueryExecutor) Execute(ctx context.Context, q domain.ReportQuery) (*ChunkReader, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, q.SQL)
	if err != nil {
		return nil, &domain.DatabaseError{Op: "query", Err: err}
	}

	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, &domain.DatabaseError{Op: "columns", Err: err}
	}

	return &ChunkReader{
		rows:    rows,
		columns: columns,
		size:    q.ChunkSize,
	}, nil
}

// ChunkReader yields a result set in database order, ChunkSize rows at a
// time. It cannot be rewound.
type ChunkReader struct {
	rows    *sql.Rows
	columns []string
	size    int
	done    bool
}

// Columns returns the result set's column names. They are known even when
// the query returns no rows.
func (r *ChunkReader) Columns() []string {
	return r.columns
}

// Next returns the next chunk, or io.EOF once the result set is exhausted.
// An empty tail is reported as io.EOF rather than as an empty chunk.
func (r *ChunkReader) Next() (domain.RowChunk, error) {
	if r.done {
		return domain.RowChunk{}, io.EOF
	}

	chunk := domain.RowChunk{
		Columns: r.columns,
		Rows:    make([][]any, 0, r.size),
	}

	for len(chunk.Rows) < r.size && r.rows.Next() {
		row, err := r.scan()
		if err != nil {
			r.finish()
			return domain.RowChunk{}, err
		}
		chunk.Rows = append(chunk.Rows, row)
	}

	if len(chunk.Rows) < r.size {
		// Either rows.Next returned false or the chunk is short; both mean
		// the cursor is drained.
		if err := r.rows.Err(); err != nil {
			r.finish()
			return domain.RowChunk{}, &domain.DatabaseError{Op: "fetch", Err: err}
		}
		r.finish()
	}

	if len(chunk.Rows) == 0 {
		return domain.RowChunk{}, io.EOF
	}
	return chunk, nil
}

// Close releases the cursor. It is safe to call more than once.
func (r *ChunkReader) Close() error {
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	r.done = true
	return err
}

func (r *ChunkReader) scan() ([]any, error) {
	values := make([]any, len(r.columns))
	dest := make([]any, len(r.columns))
	for i := range values {
		dest[i] = &values[i]
	}

	if err := r.rows.Scan(dest...); err != nil {
		return nil, &domain.DatabaseError{Op: "scan", Err: err}
	}

	for i, v := range values {
		values[i] = normalize(v)
	}
	return values, nil
}

func (r *ChunkReader) finish() {
	r.done = true
}

// normalize turns driver byte slices into strings so text columns land in
// the spreadsheet as text instead of raw bytes.
func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case sql.RawBytes:
		return string(val)
	default:
		return v
	}
}

// IsDatabaseError reports whether err came from the database layer.
func IsDatabaseError(err error) bool {
	var dbErr *domain.DatabaseError
	return errors.As(err, &dbErr)
}
