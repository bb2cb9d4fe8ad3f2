package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/wosafety/internal/types"
)

// Gateway turns safety check requests into runs. It creates the chat
// session for a work order, wraps it in a Run, and enqueues the run for
// processing.
type Gateway struct {
	sessions types.SessionStore
	Queue    *Queue
	retry    *RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Gateway wired to the session store with the given
// concurrency limit for simultaneous run processing.
func New(sessions types.SessionStore, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	return &Gateway{
		sessions: sessions,
		Queue:    NewQueue(concurrency),
		retry:    DefaultRetryPolicy(),
	}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
	g.wg.Wait()
}

// Retry returns the policy processors use for provider calls.
func (g *Gateway) Retry() *RetryPolicy {
	return g.retry
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked when the run produces a final response.
func WithOnComplete(fn func(string)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// WithOnError sets a callback invoked when the run fails.
func WithOnError(fn func(error)) RunOption {
	return func(r *Run) { r.OnError = fn }
}

// Invoke enqueues a run for an existing session. The session must belong
// to workOrderID.
func (g *Gateway) Invoke(ctx context.Context, sessionID types.SessionID, workOrderID types.WorkOrderID, opts ...RunOption) error {
	sess, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if sess.WorkOrderID != workOrderID {
		return fmt.Errorf("session %s belongs to work order %s, not %s", sessionID, sess.WorkOrderID, workOrderID)
	}
	run := NewRun(sessionID, workOrderID)
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		return fmt.Errorf("enqueue run: %w", err)
	}
	return nil
}

// StartSafetyCheck creates a fresh session for the work order and enqueues
// its run. Used by callers that have no review page open.
func (g *Gateway) StartSafetyCheck(ctx context.Context, workOrderID types.WorkOrderID, opts ...RunOption) (*types.Session, error) {
	sess, err := g.sessions.Create(ctx, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := g.Invoke(ctx, sess.ID, workOrderID, opts...); err != nil {
		return nil, err
	}
	return sess, nil
}

// RunSafetyCheck starts a safety check and waits for its result.
func (g *Gateway) RunSafetyCheck(ctx context.Context, workOrderID types.WorkOrderID) (string, error) {
	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	_, err := g.StartSafetyCheck(ctx, workOrderID,
		WithOnComplete(func(result string) { done <- outcome{result: result} }),
		WithOnError(func(err error) { done <- outcome{err: err} }),
	)
	if err != nil {
		return "", err
	}
	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
