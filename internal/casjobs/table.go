package casjobs

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
)

// ResultSet is one Columns/Data block of a query reply.
type ResultSet struct {
	Columns []string `json:"Columns"`
	Data    [][]any  `json:"Data"`
}

// Table converts the result set into a Table without copying rows.
func (rs ResultSet) Table() *Table {
	return &Table{Columns: rs.Columns, Rows: rs.Data}
}

// Table is a column-named, row-major result table.
type Table struct {
	Columns []string
	Rows    [][]any
	// Index is an optional row label column. It is written to CSV only when named.
	Index *Index
}

// Index labels the rows of a Table.
type Index struct {
	Name   string
	Values []any
}

// WriteCSV writes a header line and one line per row.
func (t *Table) WriteCSV(w io.Writer) error {
	withIndex := t.Index != nil && t.Index.Name != ""
	if withIndex && len(t.Index.Values) != len(t.Rows) {
		return fmt.Errorf("index has %d values for %d rows", len(t.Index.Values), len(t.Rows))
	}

	cw := csv.NewWriter(w)
	header := t.Columns
	if withIndex {
		header = append([]string{t.Index.Name}, t.Columns...)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, len(header))
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(t.Columns))
		}
		off := 0
		if withIndex {
			record[0] = formatCell(t.Index.Values[i])
			off = 1
		}
		for j, v := range row {
			record[off+j] = formatCell(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV renders the table with WriteCSV.
func (t *Table) CSV() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.WriteCSV(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Matrix returns the cells as float64, with empty cells as NaN.
func (t *Table) Matrix() ([][]float64, error) {
	out := make([][]float64, len(t.Rows))
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(t.Columns))
		}
		vals := make([]float64, len(row))
		for j, v := range row {
			f, err := toFloat(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, t.Columns[j], err)
			}
			vals[j] = f
		}
		out[i] = vals
	}
	return out, nil
}

// ReadCSV parses CSV text into a Table. Columns whose values all parse as integers
// become int64, otherwise float64 when numeric, otherwise string. Empty cells are nil.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("read csv: no header line")
	}
	t := &Table{Columns: slices.Clone(records[0]), Rows: make([][]any, len(records)-1)}
	kinds := inferKinds(len(t.Columns), records[1:])
	for i, rec := range records[1:] {
		row := make([]any, len(rec))
		for j, s := range rec {
			row[j] = parseCell(s, kinds[j])
		}
		t.Rows[i] = row
	}
	return t, nil
}

type cellKind int

const (
	kindInt cellKind = iota
	kindFloat
	kindString
)

func inferKinds(n int, records [][]string) []cellKind {
	kinds := make([]cellKind, n)
	for _, rec := range records {
		for j, s := range rec {
			if s == "" || kinds[j] == kindString {
				continue
			}
			if kinds[j] == kindInt {
				if _, err := strconv.ParseInt(s, 10, 64); err == nil {
					continue
				}
				kinds[j] = kindFloat
			}
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				kinds[j] = kindString
			}
		}
	}
	return kinds
}

func parseCell(s string, kind cellKind) any {
	if s == "" {
		return nil
	}
	switch kind {
	case kindInt:
		i, _ := strconv.ParseInt(s, 10, 64)
		return i
	case kindFloat:
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	return s
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}
