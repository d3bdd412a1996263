package gridbase

import (
	"context"
	"sort"
	"sync"
)

// MemoryGrid keeps sheets in process memory.
type MemoryGrid struct {
	mu     sync.RWMutex
	sheets map[string][][]string // row 0 is the header
}

// NewMemoryGrid creates an empty grid.
func NewMemoryGrid() *MemoryGrid {
	return &MemoryGrid{sheets: make(map[string][][]string)}
}

// SeedSheet replaces a sheet with a header and rows.
func (g *MemoryGrid) SeedSheet(name string, header []string, rows ...[]string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	data := make([][]string, 0, len(rows)+1)
	data = append(data, append([]string(nil), header...))
	for _, row := range rows {
		data = append(data, append([]string(nil), row...))
	}
	g.sheets[name] = data
}

func (g *MemoryGrid) Sheet(ctx context.Context, name string) (*Sheet, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	data, ok := g.sheets[name]
	if !ok {
		return nil, WithContext(ErrNotFound, map[string]interface{}{"sheet": name})
	}
	return sheetFromRows(name, data), nil
}

func (g *MemoryGrid) AppendRow(ctx context.Context, name string, cells []string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	data := g.sheets[name]
	if len(data) == 0 {
		data = [][]string{nil}
	}
	data = append(data, append([]string(nil), cells...))
	g.sheets[name] = data
	return len(data), nil
}

func (g *MemoryGrid) SetRow(ctx context.Context, name string, number int, cells []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	data := g.sheets[name]
	if number == 1 && len(data) == 0 {
		g.sheets[name] = [][]string{append([]string(nil), cells...)}
		return nil
	}
	if err := checkRowNumber(name, number, len(data)); err != nil {
		return err
	}
	data[number-1] = append([]string(nil), cells...)
	return nil
}

func (g *MemoryGrid) DeleteRow(ctx context.Context, name string, number int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	data := g.sheets[name]
	if err := checkRowNumber(name, number, len(data)); err != nil {
		return err
	}
	g.sheets[name] = append(data[:number-1], data[number:]...)
	return nil
}

func (g *MemoryGrid) SheetNames(ctx context.Context) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.sheets))
	for name := range g.sheets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (g *MemoryGrid) Close() error {
	return nil
}

// sheetFromRows copies raw rows into a Sheet, numbering data rows from 2.
func sheetFromRows(name string, data [][]string) *Sheet {
	sheet := &Sheet{Name: name}
	if len(data) == 0 {
		return sheet
	}
	sheet.Header = append([]string(nil), data[0]...)
	for i := 1; i < len(data); i++ {
		sheet.Rows = append(sheet.Rows, Row{
			Number: i + 1,
			Cells:  append([]string(nil), data[i]...),
		})
	}
	return sheet
}
