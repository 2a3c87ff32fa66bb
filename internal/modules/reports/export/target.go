package export

import (
	"errors"
	"fmt"
	"slices"

	"github.com/xuri/excelize/v2"

	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/domain"
)

var (
	ErrColumnMismatch = errors.New("chunk columns differ from header")
	ErrSheetFull      = errors.New("sheet row limit reached")
	ErrHeaderWritten  = errors.New("header already written")
)

// rowWriter is satisfied by *excelize.StreamWriter. Rows must be written in
// strictly ascending order.
type rowWriter interface {
	SetRow(cell string, values []any, opts ...excelize.RowOpts) error
}

// ExportTarget is one sheet being filled top to bottom. The cursor is the
// 0-based index of the next free row and never moves backwards.
type ExportTarget struct {
	rows    rowWriter
	sheet   string
	columns []string
	cursor  int
	header  bool
}

func newExportTarget(rows rowWriter, sheet string) *ExportTarget {
	return &ExportTarget{rows: rows, sheet: sheet}
}

// Cursor returns the next free row index.
func (t *ExportTarget) Cursor() int {
	return t.cursor
}

// DataRows returns the number of rows written below the header.
func (t *ExportTarget) DataRows() int {
	if t.header {
		return t.cursor - 1
	}
	return t.cursor
}

// WriteHeader writes the column names at row 0. It may only run once, before
// any data.
func (t *ExportTarget) WriteHeader(columns []string) error {
	if t.header {
		return ErrHeaderWritten
	}

	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = c
	}
	if err := t.writeRow(values); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	t.columns = slices.Clone(columns)
	t.header = true
	return nil
}

// Append writes the chunk's rows at the cursor, preceded by the header when
// this is the first chunk. It returns the row index of the chunk's first
// data row.
func (t *ExportTarget) Append(chunk domain.RowChunk) (int, error) {
	if !t.header {
		if err := t.WriteHeader(chunk.Columns); err != nil {
			return 0, err
		}
	} else if !slices.Equal(t.columns, chunk.Columns) {
		return 0, fmt.Errorf("%w: got %v, want %v", ErrColumnMismatch, chunk.Columns, t.columns)
	}

	start := t.cursor
	for _, row := range chunk.Rows {
		if err := t.writeRow(row); err != nil {
			return start, err
		}
	}
	return start, nil
}

func (t *ExportTarget) writeRow(values []any) error {
	if t.cursor >= excelize.TotalRows {
		return fmt.Errorf("%w: %s holds %d rows", ErrSheetFull, t.sheet, excelize.TotalRows)
	}

	cell, err := excelize.CoordinatesToCellName(1, t.cursor+1)
	if err != nil {
		return err
	}
	if err := t.rows.SetRow(cell, values); err != nil {
		return fmt.Errorf("write row %d: %w", t.cursor, err)
	}
	t.cursor++
	return nil
}
