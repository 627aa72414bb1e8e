package rowstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"
)

// XLSX keeps each table as a worksheet of one workbook file. The file is
// opened once and saved after every mutation.
type XLSX struct {
	mu    sync.Mutex
	path  string
	file  *excelize.File
	fresh bool
}

// OpenXLSX opens the workbook at path, or starts a new one that is written on
// the first EnsureTable.
func OpenXLSX(path string) (*XLSX, error) {
	if path == "" {
		return nil, errors.New("workbook path is required")
	}
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, unavailable("open workbook "+path, err)
		}
		return &XLSX{path: path, file: f}, nil
	} else if !os.IsNotExist(err) {
		return nil, unavailable("stat workbook "+path, err)
	}
	return &XLSX{path: path, file: excelize.NewFile(), fresh: true}, nil
}

func (x *XLSX) rows(table string) ([][]string, error) {
	idx, err := x.file.GetSheetIndex(table)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", table, err)
	}
	if idx < 0 {
		return nil, fmt.Errorf("%s: %w", table, ErrTableNotFound)
	}
	rows, err := x.file.GetRows(table)
	if err != nil {
		return nil, unavailable("read sheet "+table, err)
	}
	return rows, nil
}

func (x *XLSX) FetchAll(_ context.Context, table string) ([]Record, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rows, err := x.rows(table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := trimTrailing(rows[0])
	out := make([]Record, 0, len(rows)-1)
	for i, cells := range rows[1:] {
		out = append(out, NewRecord(i+1, header, cells))
	}
	return out, nil
}

func (x *XLSX) Header(_ context.Context, table string) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rows, err := x.rows(table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return trimTrailing(rows[0]), nil
}

func (x *XLSX) AppendRow(_ context.Context, table string, values []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	rows, err := x.rows(table)
	if err != nil {
		return err
	}
	if err := x.writeRow(table, len(rows)+1, values); err != nil {
		return err
	}
	return x.save()
}

func (x *XLSX) DeleteRow(_ context.Context, table string, row int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	rows, err := x.rows(table)
	if err != nil {
		return err
	}
	if row < 1 || row >= len(rows) {
		return fmt.Errorf("%s row %d: %w", table, row, ErrRowNotFound)
	}
	// Sheet row 1 is the header.
	if err := x.file.RemoveRow(table, row+1); err != nil {
		return fmt.Errorf("remove %s row %d: %w", table, row, err)
	}
	return x.save()
}

func (x *XLSX) EnsureTable(_ context.Context, table string, header []string) error {
	if err := validateHeader(header); err != nil {
		return fmt.Errorf("ensure %s: %w", table, err)
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	idx, err := x.file.GetSheetIndex(table)
	if err != nil {
		return fmt.Errorf("sheet %q: %w", table, err)
	}
	if idx >= 0 {
		rows, err := x.file.GetRows(table)
		if err != nil {
			return unavailable("read sheet "+table, err)
		}
		if len(rows) > 0 {
			return nil
		}
	} else if err := x.addSheet(table); err != nil {
		return err
	}

	if err := x.writeRow(table, 1, header); err != nil {
		return err
	}
	return x.save()
}

func (x *XLSX) UpdateHeader(_ context.Context, table string, header []string) error {
	if err := validateHeader(header); err != nil {
		return fmt.Errorf("update header of %s: %w", table, err)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	rows, err := x.rows(table)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		for col := len(header) + 1; col <= len(rows[0]); col++ {
			cell, _ := excelize.CoordinatesToCellName(col, 1)
			if err := x.file.SetCellValue(table, cell, ""); err != nil {
				return fmt.Errorf("clear %s!%s: %w", table, cell, err)
			}
		}
	}
	if err := x.writeRow(table, 1, header); err != nil {
		return err
	}
	return x.save()
}

func (x *XLSX) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.file.Close()
}

// addSheet creates a worksheet. A new workbook starts with an unused
// "Sheet1", which is renamed to the first table instead of left behind.
func (x *XLSX) addSheet(table string) error {
	if x.fresh {
		x.fresh = false
		if first := x.file.GetSheetName(0); first != "" {
			if err := x.file.SetSheetName(first, table); err != nil {
				return fmt.Errorf("rename sheet %q: %w", first, err)
			}
			return nil
		}
	}
	if _, err := x.file.NewSheet(table); err != nil {
		return fmt.Errorf("create sheet %q: %w", table, err)
	}
	return nil
}

func (x *XLSX) writeRow(table string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := append([]string(nil), values...)
	if err := x.file.SetSheetRow(table, cell, &cells); err != nil {
		return fmt.Errorf("write %s row %d: %w", table, row, err)
	}
	return nil
}

func (x *XLSX) save() error {
	if err := x.file.SaveAs(x.path); err != nil {
		return unavailable("save workbook "+x.path, err)
	}
	return nil
}

func trimTrailing(cells []string) []string {
	n := len(cells)
	for n > 0 && cells[n-1] == "" {
		n--
	}
	return cells[:n]
}
