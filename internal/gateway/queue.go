package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/wosafety/internal/types"
)

// DefaultLaneDepth bounds the runs waiting behind one work order.
const DefaultLaneDepth = 8

var (
	ErrQueueFull    = errors.New("queue full")
	ErrQueueStopped = errors.New("queue stopped")
)

// Queue runs safety checks one at a time per work order, so two checks
// never race to store a result on the same order, while a weighted
// semaphore caps how many agents run across all work orders. A lane exists
// only while it has runs; its goroutine exits once drained.
type Queue struct {
	sem       *semaphore.Weighted
	depth     int
	processor func(*Run) error
	active    atomic.Int64

	mu      sync.Mutex
	lanes   map[types.WorkOrderID][]*Run
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		sem:   semaphore.NewWeighted(max(maxConcurrent, 1)),
		depth: DefaultLaneDepth,
		lanes: make(map[types.WorkOrderID][]*Run),
	}
}

// Start must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop rejects new runs, fails the waiting ones with ErrQueueStopped and
// waits for the running ones to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Enqueue appends run to its work order's lane.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.ctx == nil {
		return ErrQueueStopped
	}
	lane, exists := q.lanes[run.WorkOrderID]
	if len(lane) >= q.depth {
		return fmt.Errorf("work order %s: %w", run.WorkOrderID, ErrQueueFull)
	}
	q.lanes[run.WorkOrderID] = append(lane, run)
	if !exists {
		q.wg.Add(1)
		go q.drain(run.WorkOrderID)
	}
	return nil
}

// next pops the head of a lane, deleting the lane when it is empty.
func (q *Queue) next(id types.WorkOrderID) (*Run, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	lane := q.lanes[id]
	if len(lane) == 0 {
		delete(q.lanes, id)
		return nil, false
	}
	q.lanes[id] = lane[1:]
	return lane[0], true
}

func (q *Queue) drain(id types.WorkOrderID) {
	defer q.wg.Done()
	for {
		run, ok := q.next(id)
		if !ok {
			return
		}
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			q.abandon(run)
			continue
		}
		q.active.Add(1)
		q.execute(run)
		q.active.Add(-1)
		q.sem.Release(1)
	}
}

func (q *Queue) abandon(run *Run) {
	run.Status = RunStatusFailed
	run.Error = ErrQueueStopped
	if run.OnError != nil {
		run.OnError(ErrQueueStopped)
	}
}

func (q *Queue) execute(run *Run) {
	if run.Ctx == nil {
		run.Ctx = q.ctx
	}
	started := time.Now()
	run.StartedAt = &started
	run.Status = RunStatusRunning
	run.Attempts++

	var err error
	if q.processor == nil {
		err = errors.New("no processor")
	} else {
		err = q.processor(run)
	}

	ended := time.Now()
	run.EndedAt = &ended
	if err != nil {
		run.Status = RunStatusFailed
		run.Error = err
		slog.Error("run failed", "run_id", string(run.ID), "session_id", string(run.SessionID), "work_order_id", string(run.WorkOrderID), "error", err)
		if run.OnError != nil {
			run.OnError(err)
		}
		return
	}
	run.Status = RunStatusComplete
	slog.Debug("run complete", "run_id", string(run.ID), "work_order_id", string(run.WorkOrderID), "duration", ended.Sub(started))
}

// Active is the number of runs being processed right now.
func (q *Queue) Active() int64 {
	return q.active.Load()
}

// Pending is the number of runs waiting behind the work order's current one.
func (q *Queue) Pending(id types.WorkOrderID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[id])
}

// Lanes is the number of work orders with queued or running checks.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// WaitIdle polls until no lane is left or timeout expires.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if q.Lanes() == 0 && q.Active() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}
