package rowstore

import (
	"context"
	"fmt"
	"sync"
)

type memTable struct {
	header []string
	rows   [][]string
}

// Memory is an in-process Store. It backs STORE_BACKEND=memory and tests.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable)}
}

func (m *Memory) table(name string) (*memTable, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrTableNotFound)
	}
	return t, nil
}

func (m *Memory) FetchAll(_ context.Context, table string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	header := append([]string(nil), t.header...)
	out := make([]Record, 0, len(t.rows))
	for i, cells := range t.rows {
		out = append(out, NewRecord(i+1, header, cells))
	}
	return out, nil
}

func (m *Memory) Header(_ context.Context, table string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.header...), nil
}

func (m *Memory) AppendRow(_ context.Context, table string, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return err
	}
	t.rows = append(t.rows, append([]string(nil), values...))
	return nil
}

func (m *Memory) DeleteRow(_ context.Context, table string, row int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return err
	}
	if row < 1 || row > len(t.rows) {
		return fmt.Errorf("%s row %d: %w", table, row, ErrRowNotFound)
	}
	t.rows = append(t.rows[:row-1], t.rows[row:]...)
	return nil
}

func (m *Memory) EnsureTable(_ context.Context, table string, header []string) error {
	if err := validateHeader(header); err != nil {
		return fmt.Errorf("ensure %s: %w", table, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; ok {
		return nil
	}
	m.tables[table] = &memTable{header: append([]string(nil), header...)}
	return nil
}

func (m *Memory) UpdateHeader(_ context.Context, table string, header []string) error {
	if err := validateHeader(header); err != nil {
		return fmt.Errorf("update header of %s: %w", table, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return err
	}
	t.header = append([]string(nil), header...)
	return nil
}

func (m *Memory) Close() error { return nil }
