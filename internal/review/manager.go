package review

import (
	"context"
	"sort"
	"sync"

	"github.com/user/wosafety/internal/types"
)

// Manager keeps at most one open page per work order.
type Manager struct {
	deps Deps

	mu    sync.Mutex
	pages map[types.WorkOrderID]*Page
}

func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, pages: make(map[types.WorkOrderID]*Page)}
}

// Page returns the open page for id, opening it on first use.
func (m *Manager) Page(ctx context.Context, id types.WorkOrderID) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pages[id]; ok {
		return p, nil
	}
	p, err := Open(ctx, m.deps, id)
	if err != nil {
		return nil, err
	}
	m.pages[id] = p
	return p, nil
}

// Get returns an already open page.
func (m *Manager) Get(id types.WorkOrderID) (*Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[id]
	return p, ok
}

// Open lists the work orders that currently have a page.
func (m *Manager) Open() []types.WorkOrderID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]types.WorkOrderID, 0, len(m.pages))
	for id := range m.pages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close tears down the page for id. It reports whether one was open.
func (m *Manager) Close(id types.WorkOrderID) bool {
	m.mu.Lock()
	p, ok := m.pages[id]
	delete(m.pages, id)
	m.mu.Unlock()
	if ok {
		p.Close()
	}
	return ok
}

// CloseAll tears down every page.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	pages := m.pages
	m.pages = make(map[types.WorkOrderID]*Page)
	m.mu.Unlock()
	for _, p := range pages {
		p.Close()
	}
}
