package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ecosim/domain/dataset"
	"ecosim/internal"
	apperrors "ecosim/internal/errors"

	"github.com/xuri/excelize/v2"
)

// DataReader reads the joined county table from .xlsx or .csv files.
// It implements ports.TableReaderPort.
type DataReader struct {
	config ReaderConfig
	logger *internal.Logger
}

// NewDataReader creates a reader; logger may be nil
func NewDataReader(config ReaderConfig, logger *internal.Logger) *DataReader {
	if config.Sheet == "" {
		config.Sheet = DefaultReaderConfig().Sheet
	}
	if logger == nil {
		logger = internal.NewLoggerTo(io.Discard, internal.LogLevelError)
	}
	return &DataReader{config: config, logger: logger.With("DataReader")}
}

// ReadTable reads source, choosing the format from its extension
func (r *DataReader) ReadTable(ctx context.Context, source string) (*dataset.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(source); os.IsNotExist(err) {
		return nil, apperrors.NotFound(fmt.Sprintf("training table %s", source))
	}

	switch ext := strings.ToLower(filepath.Ext(source)); ext {
	case ".csv":
		return r.readCSV(source)
	case ".xlsx", ".xlsm":
		return r.readExcel(source)
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unsupported table format %q", ext))
	}
}

func (r *DataReader) readExcel(path string) (*dataset.Table, error) {
	start := time.Now()
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(r.config.Sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", r.config.Sheet, err)
	}
	r.logger.Debug("sheet %s read in %.2fms (%d rows)", r.config.Sheet, float64(time.Since(start).Nanoseconds())/1e6, len(rows))
	return r.processRows(path, rows)
}

func (r *DataReader) readCSV(path string) (*dataset.Table, error) {
	start := time.Now()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	r.logger.Debug("CSV file read in %.2fms (%d rows)", float64(time.Since(start).Nanoseconds())/1e6, len(rows))
	return r.processRows(path, rows)
}

// processRows takes the first row as headers. Short rows are padded and
// blank rows dropped; excelize omits trailing empty cells.
func (r *DataReader) processRows(path string, rows [][]string) (*dataset.Table, error) {
	if len(rows) < 2 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("%s must have a header row and at least one data row", path))
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
		if headers[i] == "" {
			return nil, apperrors.InvalidInput(fmt.Sprintf("%s: column %d has an empty header", path, i+1))
		}
	}

	data := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		cells := make([]string, len(headers))
		for j := 0; j < len(headers) && j < len(row); j++ {
			cells[j] = strings.TrimSpace(row[j])
		}
		data = append(data, cells)
	}

	table, err := dataset.NewTable(headers, data)
	if err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("%s: %v", path, err))
	}
	r.logger.Info("%s loaded (%d columns, %d rows)", filepath.Base(path), len(headers), table.Len())
	return table, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
