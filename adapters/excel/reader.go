package excel

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gravfit/domain/core"
	"gravfit/domain/trial"
	"gravfit/internal"

	"github.com/xuri/excelize/v2"
)

// DataReader handles reading Excel and CSV trial files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	logger   *internal.Logger
}

// NewDataReader creates a reader that picks the format from the file extension
func NewDataReader(filePath string, logger *internal.Logger) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	if logger == nil {
		logger = internal.NopLogger()
	}
	return &DataReader{filePath: filePath, fileType: fileType, logger: logger.With("reader")}
}

// ReadData reads the file into a trial table
func (r *DataReader) ReadData() (*trial.Table, error) {
	r.logger.Debug("reading %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	switch r.fileType {
	case "csv":
		return r.readCSVData()
	case "xlsx":
		return r.readExcelData()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
}

// readExcelData reads the first worksheet
func (r *DataReader) readExcelData() (*trial.Table, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %s has no worksheets", core.ErrEmptyTable, r.filePath)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	r.logger.Debug("sheet %s read in %.2fms (%d rows)", sheets[0], float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))

	return r.processRows(rows)
}

func (r *DataReader) readCSVData() (*trial.Table, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()
	return ReadCSV(file, r.filePath, r.logger)
}

// ReadCSV parses a headed CSV stream into a trial table; name is used in messages only
func ReadCSV(in io.Reader, name string, logger *internal.Logger) (*trial.Table, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV %s: %w", name, err)
	}
	r := &DataReader{filePath: name, fileType: "csv", logger: logger}
	if r.logger == nil {
		r.logger = internal.NopLogger()
	}
	return r.processRows(rows)
}

// processRows converts raw string rows into a table. Short rows pad with empty cells
// and fully blank rows are dropped.
func (r *DataReader) processRows(rows [][]string) (*trial.Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s has no header row", core.ErrEmptyTable, r.filePath)
	}

	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	for i, header := range headerRow {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	}

	var dataRows []trial.Row
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		rowData := make(trial.Row, len(headers))
		blank := true
		for j, header := range headers {
			cell := ""
			if j < len(row) {
				cell = strings.TrimSpace(row[j])
			}
			if cell != "" {
				blank = false
			}
			rowData[header] = cell
		}
		if blank {
			continue
		}
		dataRows = append(dataRows, rowData)
	}

	r.logger.Debug("%s file processed (%d columns, %d rows)", strings.ToUpper(r.fileType), len(headers), len(dataRows))

	return &trial.Table{
		Headers: headers,
		Rows:    dataRows,
	}, nil
}
