// Package memory keeps mirrored months in process. It backs the worker when
// no spreadsheet is configured and in tests.
package memory

import (
	"context"
	"sync"

	"expensegrid/internal/sheets"
)

type Mirror struct {
	mu     sync.Mutex
	tabs   map[string][][]any
	writes int
}

var _ sheets.MonthMirror = (*Mirror)(nil)

func New() *Mirror {
	return &Mirror{tabs: map[string][][]any{}}
}

// ReplaceMonth stores the rendered tab, replacing any previous content.
func (m *Mirror) ReplaceMonth(_ context.Context, year, month int, rows []sheets.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tabs[sheets.TabName(year, month)] = sheets.Values(rows)
	m.writes++
	return nil
}

// Tab returns the rendered values of a tab and whether it exists.
func (m *Mirror) Tab(name string) ([][]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.tabs[name]
	if !ok {
		return nil, false
	}
	out := make([][]any, len(v))
	copy(out, v)
	return out, true
}

// Writes counts ReplaceMonth calls.
func (m *Mirror) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
