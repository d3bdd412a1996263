package gridbase

import (
	"context"
	"strings"
)

// Grid is the tabular storage the store is built on. Each sheet holds a
// header in row 1 and data rows below it; row numbers are 1-based.
type Grid interface {
	// Sheet returns the header and all data rows of a sheet.
	// Missing sheets return ErrNotFound.
	Sheet(ctx context.Context, name string) (*Sheet, error)

	// AppendRow adds a row after the last one and returns its number.
	// The sheet is created if it does not exist.
	AppendRow(ctx context.Context, name string, cells []string) (int, error)

	// SetRow overwrites a row. Row 1 is the header.
	SetRow(ctx context.Context, name string, number int, cells []string) error

	// DeleteRow removes a row; rows below it move up by one.
	DeleteRow(ctx context.Context, name string, number int) error

	// SheetNames lists every sheet, meta sheets included.
	SheetNames(ctx context.Context) ([]string, error)

	Close() error
}

// Sheet is a snapshot of one sheet's contents.
type Sheet struct {
	Name   string
	Header []string
	Rows   []Row
}

// Row is a data row with its physical row number.
type Row struct {
	Number int
	Cells  []string
}

// LastRow returns the number of the last row, 1 when only the header exists
// and 0 for a blank sheet.
func (s *Sheet) LastRow() int {
	if len(s.Rows) > 0 {
		return s.Rows[len(s.Rows)-1].Number
	}
	if len(s.Header) > 0 {
		return 1
	}
	return 0
}

// IsMetaName reports whether a sheet name is wrapped in double underscores.
func IsMetaName(name string) bool {
	return len(name) >= 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

// SplitSheetNames partitions sheet names into ordinary and meta sheets.
func SplitSheetNames(names []string) (ordinary, meta []string) {
	for _, name := range names {
		if IsMetaName(name) {
			meta = append(meta, name)
		} else {
			ordinary = append(ordinary, name)
		}
	}
	return ordinary, meta
}

func checkRowNumber(sheet string, number, last int) error {
	if number < 1 || number > last {
		return WithContext(ErrNotFound, map[string]interface{}{
			"sheet": sheet,
			"row":   number,
			"last":  last,
		})
	}
	return nil
}
