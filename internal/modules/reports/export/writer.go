// Package export streams chunked query results into single-sheet XLSX
// workbooks.
package export

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/domain"
	"github.com/gaborage/go-bricks/logger"
)

const fileExtension = ".xlsx"

// ChunkSource yields row chunks until io.EOF. Columns must be available
// before the first chunk, even for an empty result set.
type ChunkSource interface {
	Columns() []string
	Next() (domain.RowChunk, error)
}

// Writer turns a ChunkSource into a workbook file inside dir.
type Writer struct {
	dir    string
	logger logger.Logger
}

// NewWriter creates a writer that saves workbooks under dir.
func NewWriter(dir string, log logger.Logger) *Writer {
	return &Writer{dir: dir, logger: log}
}

// Write drains src into the sheet sheetName of <dir>/<targetName>.xlsx.
//
// The header is written with the first chunk. When src yields no chunks the
// workbook still gets a header row from src.Columns(), so recipients of an
// empty report see which columns it would have had.
func (w *Writer) Write(src ChunkSource, targetName, sheetName string) (artifact *domain.ReportArtifact, err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", cerr)
			artifact = nil
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return nil, fmt.Errorf("name sheet %q: %w", sheetName, err)
	}

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return nil, fmt.Errorf("open stream writer: %w", err)
	}

	target := newExportTarget(sw, sheetName)
	chunks := 0

	for {
		chunk, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read chunk %d: %w", chunks+1, err)
		}

		start, err := target.Append(chunk)
		if err != nil {
			return nil, fmt.Errorf("write chunk %d: %w", chunks+1, err)
		}
		chunks++

		w.logger.Debug().
			Str("target", targetName).
			Int("chunk", chunks).
			Int("rows", chunk.Len()).
			Int("start_row", start).
			Msg("Wrote chunk")
	}

	if chunks == 0 {
		if columns := src.Columns(); len(columns) > 0 {
			if err := target.WriteHeader(columns); err != nil {
				return nil, err
			}
		}
	}

	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush sheet: %w", err)
	}

	name := targetName + fileExtension
	path := filepath.Join(w.dir, name)
	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("save workbook %s: %w", path, err)
	}

	w.logger.Info().
		Str("path", path).
		Int("chunks", chunks).
		Int("rows", target.DataRows()).
		Msg("Finished writing workbook")

	return &domain.ReportArtifact{
		Name:   name,
		Path:   path,
		Sheet:  sheetName,
		Rows:   target.DataRows(),
		Chunks: chunks,
	}, nil
}
