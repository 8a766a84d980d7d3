package casjobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Format selects the shape a query result is returned in.
type Format int

const (
	formatNone Format = iota
	// FormatTable decodes Result[].Columns/Data into one Table per result set.
	FormatTable
	// FormatJSON returns the JSON body as text.
	FormatJSON
	// FormatCSV returns the CSV body as text.
	FormatCSV
	// FormatMap returns the parsed JSON body.
	FormatMap
	// FormatReadable wraps the CSV body in a re-readable text reader.
	FormatReadable
	// FormatFITS wraps the FITS bytes in a re-readable binary reader.
	FormatFITS
)

const (
	acceptJSONArray = "application/json+array"
	acceptText      = "text/plain"
	acceptFITS      = "application/fits"
)

// ParseFormat maps a format name, including the names used by the SciScript clients, to a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "table", "pandas":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "map", "dict":
		return FormatMap, nil
	case "readable", "StringIO":
		return FormatReadable, nil
	case "fits", "BytesIO":
		return FormatFITS, nil
	}
	return formatNone, &FormatError{Value: name}
}

func (f Format) String() string {
	switch f {
	case FormatTable:
		return "table"
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	case FormatMap:
		return "map"
	case FormatReadable:
		return "readable"
	case FormatFITS:
		return "fits"
	}
	return strconv.Itoa(int(f))
}

// AcceptHeader returns the Accept value sent upstream for f.
func (f Format) AcceptHeader() (string, error) {
	switch f {
	case FormatTable, FormatJSON, FormatMap:
		return acceptJSONArray, nil
	case FormatCSV, FormatReadable:
		return acceptText, nil
	case FormatFITS:
		return acceptFITS, nil
	}
	return "", &FormatError{Value: f.String()}
}

// Output holds a decoded query result. Only the field matching Format is set.
type Output struct {
	Format Format
	Tables []*Table
	Text   string
	Map    map[string]any
	Stream io.ReadSeeker
}

// Table returns the first result set of a FormatTable output.
func (o *Output) Table() (*Table, error) {
	if o.Format != FormatTable || len(o.Tables) == 0 {
		return nil, fmt.Errorf("output in format %s holds no table", o.Format)
	}
	return o.Tables[0], nil
}

// Decode converts a successful response body into f's representation.
func (f Format) Decode(body []byte) (*Output, error) {
	out := &Output{Format: f}
	switch f {
	case FormatTable:
		tables, err := decodeTables(body)
		if err != nil {
			return nil, err
		}
		out.Tables = tables
	case FormatJSON, FormatCSV:
		out.Text = string(body)
	case FormatMap:
		if err := json.Unmarshal(body, &out.Map); err != nil {
			return nil, fmt.Errorf("decode query result: %w", err)
		}
	case FormatReadable:
		out.Stream = strings.NewReader(string(body))
	case FormatFITS:
		out.Stream = bytes.NewReader(bytes.Clone(body))
	default:
		return nil, &FormatError{Value: f.String()}
	}
	return out, nil
}

// queryResponse is the JSON envelope of a query reply.
type queryResponse struct {
	Result []ResultSet `json:"Result"`
}

func decodeResultSets(body []byte) ([]ResultSet, error) {
	var resp queryResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	if len(resp.Result) == 0 {
		return nil, errors.New("decode query result: response has no result sets")
	}
	for i := range resp.Result {
		normalizeRows(resp.Result[i].Data)
	}
	return resp.Result, nil
}

func decodeTables(body []byte) ([]*Table, error) {
	sets, err := decodeResultSets(body)
	if err != nil {
		return nil, err
	}
	tables := make([]*Table, 0, len(sets))
	for _, rs := range sets {
		tables = append(tables, rs.Table())
	}
	return tables, nil
}

// normalizeRows turns json.Number cells into int64 when integral and float64 otherwise.
func normalizeRows(rows [][]any) {
	for _, row := range rows {
		for j, v := range row {
			n, ok := v.(json.Number)
			if !ok {
				continue
			}
			if i, err := n.Int64(); err == nil {
				row[j] = i
			} else if f, err := n.Float64(); err == nil {
				row[j] = f
			} else {
				row[j] = n.String()
			}
		}
	}
}
