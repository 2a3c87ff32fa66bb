// Package domain holds the report job's data model: query definitions,
// row chunks flowing from the database to the spreadsheet writer, and the
// artifacts and run results produced by a pipeline run.
package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrInvalidQuery   = errors.New("invalid report query")
	ErrUnknownVariant = errors.New("unknown report variant")
	ErrRunInProgress  = errors.New("a report run is already in progress")
)

// ReportQuery is an opaque SQL statement fetched ChunkSize rows at a time.
type ReportQuery struct {
	SQL       string
	ChunkSize int
}

// Validate rejects an empty statement or a non-positive chunk size.
func (q ReportQuery) Validate() error {
	if strings.TrimSpace(q.SQL) == "" {
		return fmt.Errorf("%w: empty SQL", ErrInvalidQuery)
	}
	if q.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidQuery, q.ChunkSize)
	}
	return nil
}

// RowChunk is one batch of rows. Every chunk of the same query carries the
// same column list.
type RowChunk struct {
	Columns []string
	Rows    [][]any
}

// Len is the number of rows in the chunk.
func (c RowChunk) Len() int {
	return len(c.Rows)
}

// ReportArtifact is a finalized spreadsheet on local storage. Name doubles as
// the object storage key basename and the attachment filename.
type ReportArtifact struct {
	Name   string
	Path   string
	Sheet  string
	Rows   int
	Chunks int
}

// Report is one configured query together with its delivery settings.
type Report struct {
	Name       string
	FilePrefix string
	Sheet      string
	Query      ReportQuery
	Recipients []string
	Subject    string
	Body       string
}

// Variant groups reports that share a database connection and a run.
type Variant struct {
	Name    string
	Reports []Report
}

// Result is the structured outcome of a run.
type Result struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body,omitempty"`
}

// Success is the 200 result of a fully delivered run.
func Success() Result {
	return Result{StatusCode: http.StatusOK}
}

// Failure is a 500 result whose body is the formatted message.
func Failure(format string, args ...any) Result {
	return Result{
		StatusCode: http.StatusInternalServerError,
		Body:       fmt.Sprintf(format, args...),
	}
}

// RunInProgress is the failure returned to a caller whose run overlaps one
// already executing.
func RunInProgress() Result {
	return Failure("An error occurred: %v", ErrRunInProgress)
}

// OK reports whether the run delivered everything.
func (r Result) OK() bool {
	return r.StatusCode == http.StatusOK
}
