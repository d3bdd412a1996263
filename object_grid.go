package gridbase

import (
	"context"
	"errors"
	"sort"

	"github.com/adrianmcphee/gridbase/internal/sheetfile"
)

// ObjectGrid stores every sheet as one CSV object in a BlobBackend.
// Row edits rewrite the whole object; a sheet is the unit of I/O.
type ObjectGrid struct {
	backend BlobBackend
	prefix  string
	locks   *StripedLocks
}

// NewObjectGrid creates a grid whose sheets live under prefix.
func NewObjectGrid(backend BlobBackend, prefix string) *ObjectGrid {
	return &ObjectGrid{
		backend: backend,
		prefix:  prefix,
		locks:   NewStripedLocks(32),
	}
}

// Backend returns the underlying blob backend
func (g *ObjectGrid) Backend() BlobBackend {
	return g.backend
}

func (g *ObjectGrid) load(ctx context.Context, name string) ([][]string, error) {
	data, err := g.backend.Get(ctx, sheetfile.Key(g.prefix, name))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, WithContext(ErrNotFound, map[string]interface{}{"sheet": name})
		}
		return nil, err
	}
	records, err := sheetfile.Decode(data)
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"sheet":  name,
			"reason": err.Error(),
		})
	}
	return records, nil
}

func (g *ObjectGrid) store(ctx context.Context, name string, records [][]string) error {
	data, err := sheetfile.Encode(records)
	if err != nil {
		return err
	}
	return g.backend.Put(ctx, sheetfile.Key(g.prefix, name), data)
}

// edit runs a read-modify-write of one sheet under its lock.
func (g *ObjectGrid) edit(ctx context.Context, name string, create bool, fn func([][]string) ([][]string, error)) error {
	unlock := g.locks.Lock(name)
	defer unlock()

	records, err := g.load(ctx, name)
	if err != nil && !(create && errors.Is(err, ErrNotFound)) {
		return err
	}
	records, err = fn(records)
	if err != nil {
		return err
	}
	return g.store(ctx, name, records)
}

func (g *ObjectGrid) Sheet(ctx context.Context, name string) (*Sheet, error) {
	unlock := g.locks.RLock(name)
	defer unlock()

	records, err := g.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return sheetFromRows(name, records), nil
}

func (g *ObjectGrid) AppendRow(ctx context.Context, name string, cells []string) (int, error) {
	var number int
	err := g.edit(ctx, name, true, func(records [][]string) ([][]string, error) {
		if len(records) == 0 {
			records = [][]string{nil}
		}
		records = append(records, append([]string(nil), cells...))
		number = len(records)
		return records, nil
	})
	return number, err
}

func (g *ObjectGrid) SetRow(ctx context.Context, name string, number int, cells []string) error {
	return g.edit(ctx, name, number == 1, func(records [][]string) ([][]string, error) {
		if number == 1 && len(records) == 0 {
			return [][]string{append([]string(nil), cells...)}, nil
		}
		if err := checkRowNumber(name, number, len(records)); err != nil {
			return nil, err
		}
		records[number-1] = append([]string(nil), cells...)
		return records, nil
	})
}

func (g *ObjectGrid) DeleteRow(ctx context.Context, name string, number int) error {
	return g.edit(ctx, name, false, func(records [][]string) ([][]string, error) {
		if err := checkRowNumber(name, number, len(records)); err != nil {
			return nil, err
		}
		return append(records[:number-1], records[number:]...), nil
	})
}

func (g *ObjectGrid) SheetNames(ctx context.Context) ([]string, error) {
	keys, err := g.backend.List(ctx, g.prefix)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, key := range keys {
		if name, ok := sheetfile.NameFromKey(g.prefix, key); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (g *ObjectGrid) Close() error {
	return g.backend.Close()
}
