// Package sheetfile stores one sheet as a CSV object: the first record is the
// header, every following record is a data row.
package sheetfile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strings"
)

// Extension is appended to sheet names to form object keys.
const Extension = ".csv"

// blankRecord stands in for a row whose cells are all empty, since csv.Reader
// skips empty lines.
const blankRecord = "\"\"\n"

// Key returns the object key of a sheet under prefix.
func Key(prefix, name string) string {
	return path.Join(prefix, name+Extension)
}

// NameFromKey is the inverse of Key. ok is false for keys that are not sheets.
func NameFromKey(prefix, key string) (name string, ok bool) {
	rel := key
	if prefix != "" {
		p := strings.TrimSuffix(prefix, "/") + "/"
		if !strings.HasPrefix(key, p) {
			return "", false
		}
		rel = strings.TrimPrefix(key, p)
	}
	if strings.Contains(rel, "/") || !strings.HasSuffix(rel, Extension) {
		return "", false
	}
	name = strings.TrimSuffix(rel, Extension)
	return name, name != ""
}

// Decode parses a sheet object into records. Record 0 is the header.
func Decode(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", len(records)+1, err)
		}
		if len(record) == 1 && record[0] == "" {
			record = nil
		}
		records = append(records, record)
	}
	return records, nil
}

// Encode renders records as a sheet object.
func Encode(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	out := bufio.NewWriter(&buf)
	writer := csv.NewWriter(out)

	for i, record := range records {
		if isBlank(record) {
			writer.Flush()
			if _, err := out.WriteString(blankRecord); err != nil {
				return nil, fmt.Errorf("write record %d: %w", i+1, err)
			}
			continue
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write record %d: %w", i+1, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	if err := out.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	return buf.Bytes(), nil
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if cell != "" {
			return false
		}
	}
	return true
}
