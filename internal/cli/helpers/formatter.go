package helpers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"
)

// OutputFormat represents the desired output format of a listing.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
)

// ListFormats are the formats accepted by listing commands.
var ListFormats = []OutputFormat{FormatTable, FormatJSON, FormatCSV}

// Formatter writes a slice of rows. Table and CSV output use the `header`
// struct tag of each field to pick and name columns.
type Formatter interface {
	Format(rows any, writer io.Writer) error
}

// NewFormatter creates a new Formatter for the given format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatTable:
		return &TableFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	case FormatCSV:
		return &CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// JSONFormatter formats rows as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(rows any, writer io.Writer) error {
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// TableFormatter formats rows as an aligned table.
type TableFormatter struct{}

func (f *TableFormatter) Format(rows any, writer io.Writer) error {
	headers, values, err := tabulate(rows)
	if err != nil || headers == nil {
		return err
	}

	w := tabwriter.NewWriter(writer, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(w, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range values {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return w.Flush()
}

// CSVFormatter formats rows as CSV with a header line.
type CSVFormatter struct{}

func (f *CSVFormatter) Format(rows any, writer io.Writer) error {
	headers, values, err := tabulate(rows)
	if err != nil || headers == nil {
		return err
	}

	w := csv.NewWriter(writer)
	if err := w.Write(headers); err != nil {
		return err
	}
	if err := w.WriteAll(values); err != nil {
		return err
	}
	return w.Error()
}

// tabulate extracts headers and cell values from a slice of structs. An empty
// slice yields no headers.
func tabulate(rows any) ([]string, [][]string, error) {
	val := reflect.ValueOf(rows)
	if val.Kind() != reflect.Slice {
		return nil, nil, fmt.Errorf("data must be a slice")
	}
	if val.Len() == 0 {
		return nil, nil, nil
	}

	headers := getHeaders(val.Index(0).Type())
	values := make([][]string, 0, val.Len())
	for i := 0; i < val.Len(); i++ {
		values = append(values, getRowValues(val.Index(i)))
	}
	return headers, values, nil
}

func getHeaders(t reflect.Type) []string {
	var headers []string
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("header"); tag != "" {
			headers = append(headers, tag)
		}
	}
	return headers
}

func getRowValues(v reflect.Value) []string {
	var values []string
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if t.Field(i).Tag.Get("header") == "" {
			continue
		}
		values = append(values, cell(v.Field(i).Interface()))
	}
	return values
}

func cell(v any) string {
	if ts, ok := v.(time.Time); ok {
		return ts.Local().Format(time.DateTime)
	}
	return fmt.Sprintf("%v", v)
}
