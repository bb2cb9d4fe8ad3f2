// internal/state/workorder.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/wosafety/internal/types"
)

// WorkOrderStore is a JSON-file-backed store for work orders.
type WorkOrderStore struct {
	path string
	mu   sync.RWMutex
}

// NewWorkOrderStore creates a new file-backed WorkOrderStore at the given file path.
func NewWorkOrderStore(path string) *WorkOrderStore {
	return &WorkOrderStore{path: path}
}

// Path returns the file path used by this store.
func (s *WorkOrderStore) Path() string {
	return s.path
}

// List returns all work orders sorted by ID.
func (s *WorkOrderStore) List(_ context.Context) ([]*types.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders, err := s.load()
	if err != nil {
		return nil, err
	}
	if orders == nil {
		return []*types.WorkOrder{}, nil
	}
	return orders, nil
}

// Get finds a work order by ID.
func (s *WorkOrderStore) Get(_ context.Context, id types.WorkOrderID) (*types.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, wo := range orders {
		if wo.ID == id {
			return wo, nil
		}
	}
	return nil, fmt.Errorf("work order %s: %w", id, ErrNotFound)
}

// Put inserts or replaces a work order.
func (s *WorkOrderStore) Put(_ context.Context, wo *types.WorkOrder) error {
	if wo.ID == "" {
		return fmt.Errorf("put work order: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	orders, err := s.load()
	if err != nil {
		return err
	}
	for i, existing := range orders {
		if existing.ID == wo.ID {
			orders[i] = wo
			return s.save(orders)
		}
	}
	return s.save(append(orders, wo))
}

// SetSafetyCheck records the result of a safety check on the work order.
func (s *WorkOrderStore) SetSafetyCheck(_ context.Context, id types.WorkOrderID, response string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders, err := s.load()
	if err != nil {
		return err
	}
	for _, wo := range orders {
		if wo.ID == id {
			wo.SafetyCheckResponse = response
			wo.SafetyCheckPerformedAt = at.UTC().Format(time.RFC3339)
			return s.save(orders)
		}
	}
	return fmt.Errorf("work order %s: %w", id, ErrNotFound)
}

// load reads the JSON file. Returns nil if the file doesn't exist.
func (s *WorkOrderStore) load() ([]*types.WorkOrder, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read work orders file: %w", err)
	}

	var orders []*types.WorkOrder
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("unmarshal work orders: %w", err)
	}
	return orders, nil
}

func (s *WorkOrderStore) save(orders []*types.WorkOrder) error {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	data, err := json.MarshalIndent(orders, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal work orders: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create work orders dir: %w", err)
	}
	return writeAtomic(s.path, data)
}
