package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Row is one training record after parsing, before encoding.
type Row struct {
	Numeric     map[string]float64
	Categorical map[string]string
	Label       int
}

// ReadDatasetFile parses the training CSV at path.
func ReadDatasetFile(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()
	return ReadDataset(file)
}

// ReadDataset parses a training CSV. Columns are located by header name, so
// their order in the file does not matter. ID and age_desc are ignored.
func ReadDataset(r io.Reader) ([]Row, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	required := append(FeatureNames(), ColumnTarget)
	for _, name := range required {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("dataset is missing column %q", name)
		}
	}

	rows := make([]Row, 0, 1024)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := parseRow(record, columns)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("dataset has no rows")
	}
	return rows, nil
}

func parseRow(record []string, columns map[string]int) (Row, error) {
	row := Row{
		Numeric:     make(map[string]float64, len(NumericFields)),
		Categorical: make(map[string]string, len(CategoricalFields)),
	}
	for _, field := range NumericFields {
		raw := strings.TrimSpace(record[columns[field]])
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Row{}, fmt.Errorf("column %s: invalid number %q", field, raw)
		}
		if field == FieldAge {
			value = truncateAge(value)
		}
		row.Numeric[field] = value
	}
	for _, field := range CategoricalFields {
		raw := record[columns[field]]
		if raw == "" {
			return Row{}, fmt.Errorf("column %s: empty value", field)
		}
		row.Categorical[field] = raw
	}

	rawLabel := strings.TrimSpace(record[columns[ColumnTarget]])
	label, err := strconv.ParseFloat(rawLabel, 64)
	if err != nil || (label != 0 && label != 1) {
		return Row{}, fmt.Errorf("column %s: expected 0 or 1, got %q", ColumnTarget, rawLabel)
	}
	row.Label = int(label)
	return row, nil
}
