package roi

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Table is the ordered list of regions read from a ROI file
type Table struct {
	ROIs []ROI
}

// Column names of the ROI file
const (
	ColShape      = "Shape"
	ColX1         = "X1"
	ColY1         = "Y1"
	ColX2         = "X2"
	ColY2         = "Y2"
	ColCondition1 = "Condition1"
	ColCondition2 = "Condition2"
	ColPlate      = "Plate#"
)

// nullCells are the cell spellings treated as absent values
var nullCells = map[string]bool{
	"": true, "NA": true, "N/A": true, "n/a": true, "NaN": true, "nan": true,
	"null": true, "NULL": true, "None": true, "<NA>": true, "#N/A": true,
}

// LoadTable reads the ROI file at path. A missing file is not an error and
// yields a nil table.
func LoadTable(path string) (*Table, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadTable(file)
}

// ReadTable parses ROI rows from CSV with a header line
func ReadTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read ROI header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))
		cols[name] = i
	}
	for _, required := range []string{ColShape, ColX1, ColY1, ColX2, ColY2} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("ROI table is missing column %q", required)
		}
	}

	table := &Table{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ROI table line %d: %w", line, err)
		}
		if isBlank(record) {
			continue
		}
		row, err := parseRow(record, cols)
		if err != nil {
			return nil, fmt.Errorf("ROI table line %d: %w", line, err)
		}
		table.ROIs = append(table.ROIs, row)
	}
	return table, nil
}

func parseRow(record []string, cols map[string]int) (ROI, error) {
	cell := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return "", false
		}
		v := strings.TrimSpace(record[i])
		if nullCells[v] {
			return "", false
		}
		return v, true
	}

	var r ROI
	shape, _ := cell(ColShape)
	r.Shape = ParseShape(shape)

	coords := []struct {
		name string
		dst  *int
	}{
		{ColX1, &r.X1}, {ColY1, &r.Y1}, {ColX2, &r.X2}, {ColY2, &r.Y2},
	}
	for _, c := range coords {
		v, ok := cell(c.name)
		if !ok {
			return r, fmt.Errorf("missing %s", c.name)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return r, fmt.Errorf("invalid %s %q", c.name, v)
		}
		*c.dst = int(f)
	}

	if v, ok := cell(ColCondition1); ok {
		r.Condition1 = &v
	}
	if v, ok := cell(ColCondition2); ok {
		r.Condition2 = &v
	}
	if v, ok := cell(ColPlate); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f != math.Trunc(f) {
			return r, fmt.Errorf("invalid %s %q", ColPlate, v)
		}
		plate := int(f)
		r.Plate = &plate
	}
	return r, nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
