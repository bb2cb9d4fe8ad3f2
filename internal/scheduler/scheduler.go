// Package scheduler fires safety checks for work orders on cron schedules.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/user/wosafety/internal/state"
)

// Handler is called each time a schedule fires.
type Handler func(s state.Schedule)

// Lister is the subset of the schedule store the scheduler reads.
type Lister interface {
	List() ([]*state.Schedule, error)
}

// Scheduler registers enabled schedules as cron entries.
type Scheduler struct {
	store   Lister
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries int
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether expr is a schedule the scheduler accepts.
func Validate(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// New creates a Scheduler over the given store.
func New(store Lister, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		logger:  slog.Default().With("component", "scheduler"),
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// Start loads schedules from the store and starts the cron ticker. Disabled
// schedules and schedules without a cron expression are webhook-only and
// are skipped, as are invalid expressions.
func (s *Scheduler) Start() error {
	schedules, err := s.store.List()
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = 0
	for _, sc := range schedules {
		if sc.Schedule == "" || !sc.Enabled {
			continue
		}
		fired := *sc
		_, err := s.cron.AddFunc(fired.Schedule, func() {
			s.logger.Info("schedule firing", "name", fired.Name, "work_order_id", string(fired.WorkOrderID))
			s.handler(fired)
		})
		if err != nil {
			s.logger.Error("invalid cron schedule", "name", fired.Name, "schedule", fired.Schedule, "error", err)
			continue
		}
		s.entries++
		s.logger.Info("scheduled safety check", "name", fired.Name, "schedule", fired.Schedule)
	}

	s.cron.Start()
	return nil
}

// Reload replaces the cron with one built from the current store contents.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.mu.Unlock()
	return s.Start()
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Stop()
}
