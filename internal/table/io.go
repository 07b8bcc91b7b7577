package table

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/go-sod/calib/internal/calerr"
)

// ReadCSV reads the whole file: a header row followed by data rows. Columns
// with a non-numeric cell still load but cannot be selected.
func ReadCSV(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", calerr.ErrConfiguration, path, err)
	}
	defer file.Close()

	return DecodeCSV(bufio.NewReader(file))
}

// DecodeCSV parses CSV records from r.
func DecodeCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRecords(records)
}

// ReadXLSX reads the named sheet of a workbook. An empty sheet name selects
// the first sheet.
func ReadXLSX(path, sheet string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", calerr.ErrConfiguration, path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, calerr.Configf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", calerr.ErrConfiguration, sheet, err)
	}
	return fromRecords(records)
}

func fromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, calerr.Configf("input has no header row")
	}
	header := make([]string, len(records[0]))
	for j, name := range records[0] {
		header[j] = strings.TrimSpace(name)
	}

	rows := make([][]float64, 0, len(records)-1)
	unparsed := make(map[int]error)
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		if len(rec) > len(header) {
			return nil, calerr.Configf("row %d has %d cells, header has %d", i+1, len(rec), len(header))
		}
		row := make([]float64, len(header))
		for j := range header {
			row[j] = math.NaN()
			if _, ok := unparsed[j]; ok {
				continue
			}
			if j >= len(rec) || strings.TrimSpace(rec[j]) == "" {
				unparsed[j] = calerr.Configf("row %d column %q is empty", i+1, header[j])
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[j]), 64)
			if err != nil {
				unparsed[j] = calerr.Configf("row %d column %q: %v", i+1, header[j], err)
				continue
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	t, err := New(header, rows)
	if err != nil {
		return nil, err
	}
	if len(unparsed) > 0 {
		t.unparsed = unparsed
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// WriteCSV writes the header and rows of t to path.
func WriteCSV(path string, t *Table) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := EncodeCSV(file, t); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func EncodeCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, len(t.columns))
	for _, row := range t.rows {
		for j, v := range row {
			rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := writer.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX writes t into a new workbook with a single sheet.
func WriteXLSX(path, sheet string, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Sheet1"
	}
	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	}
	header := make([]interface{}, len(t.columns))
	for j, c := range t.columns {
		header[j] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Write picks the format from the file extension.
func Write(path string, t *Table) error {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return WriteXLSX(path, "", t)
	}
	return WriteCSV(path, t)
}

// Read picks the format from the file extension.
func Read(path, sheet string) (*Table, error) {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return ReadXLSX(path, sheet)
	}
	return ReadCSV(path)
}
