// Package input reads publication tables from CSV and XLSX files and
// validates their columns before the pipeline sees a single row.
package input

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// Required column headers, matched case-sensitively against the first row.
const (
	ColTitle  = "Title"
	ColAuthor = "First Author"
	ColYear   = "Publication Year"
	ColDOI    = "DOI"
)

var requiredColumns = []string{ColTitle, ColAuthor, ColYear, ColDOI}

// Row is one validated input record. Fields are trimmed but otherwise raw.
type Row struct {
	Title       string
	FirstAuthor string
	Year        string
	DOI         string
}

// Skippable reports whether the row lacks the fields a download or merge
// needs. Skippable rows are reported, never fatal.
func (r Row) Skippable() bool {
	return r.Title == "" || r.DOI == ""
}

// Rows reads the table at path, dispatching on extension. A missing required
// column is an error and fails the whole run; individually incomplete rows
// come back Skippable instead.
func Rows(path string) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".xlsx":
		return readXLSX(path)
	default:
		return nil, eris.Errorf("input: unsupported table format %q", filepath.Ext(path))
	}
}

func readCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // allow ragged rows
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "input: read header of %s", path)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "input: read row of %s", path)
		}
		rows = append(rows, rowFrom(record, idx))
	}

	zap.L().Info("input: read table", zap.String("path", path), zap.Int("rows", len(rows)))
	return rows, nil
}

func readXLSX(path string) ([]Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("input: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("input: %s first sheet is empty", path)
	}

	header := cellValues(sheet.Rows[0])
	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, r := range sheet.Rows[1:] {
		rows = append(rows, rowFrom(cellValues(r), idx))
	}

	zap.L().Info("input: read table", zap.String("path", path), zap.Int("rows", len(rows)))
	return rows, nil
}

func cellValues(row *xlsx.Row) []string {
	values := make([]string, 0, len(row.Cells))
	for _, c := range row.Cells {
		values = append(values, c.String())
	}
	return values
}

// columnIndex maps each required column name to its position in the header.
func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(requiredColumns))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("input: missing required columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func rowFrom(record []string, idx map[string]int) Row {
	field := func(col string) string {
		i := idx[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	return Row{
		Title:       field(ColTitle),
		FirstAuthor: field(ColAuthor),
		Year:        field(ColYear),
		DOI:         field(ColDOI),
	}
}
