// Package export renders documents for terminal output.
package export

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Leading columns, in this order, when present.
var leadingColumns = []string{"#", "$key"}

// Columns returns the union of the documents' fields: ordinal and key first,
// the rest sorted.
func Columns(docs []map[string]interface{}) []string {
	seen := make(map[string]bool)
	for _, doc := range docs {
		for k := range doc {
			seen[k] = true
		}
	}

	var columns []string
	for _, c := range leadingColumns {
		if seen[c] {
			columns = append(columns, c)
			delete(seen, c)
		}
	}
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(columns, rest...)
}

// Table writes docs as a table, one row per document.
func Table(w io.Writer, docs []map[string]interface{}) {
	columns := Columns(docs)

	table := tablewriter.NewWriter(w)
	table.SetHeader(columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, doc := range docs {
		row := make([]string, len(columns))
		for i, c := range columns {
			if v, ok := doc[c]; ok {
				row[i] = CellText(v)
			}
		}
		table.Append(row)
	}
	table.Render()
}

// KeyValue writes a single document as field/value rows.
func KeyValue(w io.Writer, doc map[string]interface{}) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)
	for _, k := range Columns([]map[string]interface{}{doc}) {
		table.Append([]string{k, CellText(doc[k])})
	}
	table.Render()
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// CellText formats one value for a table cell.
func CellText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case map[string]interface{}, []interface{}:
		out, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(out)
	default:
		return fmt.Sprintf("%v", val)
	}
}
