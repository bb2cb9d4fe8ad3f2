// internal/state/schedule.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/wosafety/internal/types"
)

// Schedule runs a safety check for a work order on a cron schedule or when
// its webhook is called.
type Schedule struct {
	Name        string            `json:"name"`
	WorkOrderID types.WorkOrderID `json:"work_order_id"`
	Schedule    string            `json:"schedule,omitempty"`
	NotifyKey   string            `json:"notify_key,omitempty"`
	Enabled     bool              `json:"enabled"`
}

// ScheduleStore is a JSON-file-backed store for schedules.
type ScheduleStore struct {
	path string
	mu   sync.RWMutex
}

// NewScheduleStore creates a new file-backed ScheduleStore at the given file path.
func NewScheduleStore(path string) *ScheduleStore {
	return &ScheduleStore{path: path}
}

// Path returns the file path used by this store.
func (s *ScheduleStore) Path() string {
	return s.path
}

// List returns all schedules. Returns an empty slice if the file doesn't exist.
func (s *ScheduleStore) List() ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules, err := s.load()
	if err != nil {
		return nil, err
	}
	if schedules == nil {
		return []*Schedule{}, nil
	}
	return schedules, nil
}

// Get finds a schedule by name.
func (s *ScheduleStore) Get(name string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, sched := range schedules {
		if sched.Name == name {
			return sched, nil
		}
	}
	return nil, fmt.Errorf("schedule %s: %w", name, ErrNotFound)
}

// Add appends a schedule. Returns an error if the name is taken.
func (s *ScheduleStore) Add(sched *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range schedules {
		if existing.Name == sched.Name {
			return fmt.Errorf("schedule already exists: %s", sched.Name)
		}
	}
	return s.save(append(schedules, sched))
}

// Remove deletes a schedule by name.
func (s *ScheduleStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return err
	}
	for i, sched := range schedules {
		if sched.Name == name {
			schedules = append(schedules[:i], schedules[i+1:]...)
			return s.save(schedules)
		}
	}
	return fmt.Errorf("schedule %s: %w", name, ErrNotFound)
}

// SetEnabled toggles the enabled flag for a schedule.
func (s *ScheduleStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return err
	}
	for _, sched := range schedules {
		if sched.Name == name {
			sched.Enabled = enabled
			return s.save(schedules)
		}
	}
	return fmt.Errorf("schedule %s: %w", name, ErrNotFound)
}

func (s *ScheduleStore) load() ([]*Schedule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schedules file: %w", err)
	}

	var schedules []*Schedule
	if err := json.Unmarshal(data, &schedules); err != nil {
		return nil, fmt.Errorf("unmarshal schedules: %w", err)
	}
	return schedules, nil
}

func (s *ScheduleStore) save(schedules []*Schedule) error {
	data, err := json.MarshalIndent(schedules, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedules: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create schedules dir: %w", err)
	}
	return writeAtomic(s.path, data)
}
