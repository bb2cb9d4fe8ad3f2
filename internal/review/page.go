// Package review hosts work-order review pages. A page runs the safety-check
// flow against the streaming and persistence channels and owns the map
// widget slot of its work order.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/wosafety/internal/clock"
	"github.com/user/wosafety/internal/gateway"
	"github.com/user/wosafety/internal/hazard"
	"github.com/user/wosafety/internal/records"
	"github.com/user/wosafety/internal/stream"
	"github.com/user/wosafety/internal/types"
	"github.com/user/wosafety/internal/widget"
)

// Invoker starts the safety agent for an existing session.
type Invoker interface {
	Invoke(ctx context.Context, sessionID types.SessionID, workOrderID types.WorkOrderID, opts ...gateway.RunOption) error
}

// Deps are the collaborators shared by every page.
type Deps struct {
	WorkOrders types.WorkOrderStore
	Sessions   types.SessionStore
	Records    types.RecordStore
	Channel    stream.Channel
	Invoker    Invoker
	Hazards    hazard.Feed

	HazardRadiusKm float64
	StreamTimeout  time.Duration
	Widget         widget.Options
	Clock          clock.Clock
	Logger         *slog.Logger
}

// Page is the server-side state of one open review page.
type Page struct {
	deps   Deps
	logger *slog.Logger
	id     types.WorkOrderID

	widget *widget.Coordinator
	sub    *stream.Subscription

	mu             sync.Mutex
	workOrder      *types.WorkOrder
	sessionID      types.SessionID
	records        []types.StreamingRecord
	stopWatch      func()
	loading        bool
	loadingHazards bool
	hazards        []types.HazardFeature
	hazardsChecked bool
	errMsg         string
	closed         bool
}

// Open loads the work order and mounts its widget slot.
func Open(ctx context.Context, deps Deps, id types.WorkOrderID) (*Page, error) {
	wo, err := deps.WorkOrders.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load work order: %w", err)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HazardRadiusKm <= 0 {
		deps.HazardRadiusKm = hazard.DefaultRadiusKm
	}

	logger := deps.Logger.With("work_order_id", string(id))
	wopts := deps.Widget
	wopts.Clock = deps.Clock
	wopts.Logger = logger

	p := &Page{
		deps:      deps,
		logger:    logger,
		id:        id,
		widget:    widget.NewCoordinator(widget.NewRegistry(), wopts),
		workOrder: wo,
		sub: stream.NewSubscription(deps.Channel,
			stream.WithClock(deps.Clock),
			stream.WithTimeout(deps.StreamTimeout),
			stream.WithLogger(logger),
		),
	}
	p.sub.OnTerminal(p.onTerminal)
	p.widget.Mount()
	return p, nil
}

func (p *Page) WorkOrderID() types.WorkOrderID { return p.id }

// Widget exposes the slot coordinator to the render layer.
func (p *Page) Widget() *widget.Coordinator { return p.widget }

// Subscription exposes the fragment stream of the current safety check.
func (p *Page) Subscription() *stream.Subscription { return p.sub }

// PerformSafetyCheck hides the widget, starts a new chat session, subscribes
// to its fragment stream and record set, and hands the session to the agent.
// It returns once the agent has been invoked; the analysis arrives on the
// subscription. Failures are also recorded as the page's error message.
// Only one check runs per page; a second call while one is loading fails
// with ErrCheckInProgress.
func (p *Page) PerformSafetyCheck(ctx context.Context) (types.SessionID, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	if p.loading {
		p.mu.Unlock()
		return "", ErrCheckInProgress
	}
	p.loading = true
	p.errMsg = ""
	p.mu.Unlock()
	defer p.setLoading(false)

	if err := p.hideWidget(ctx); err != nil {
		return "", err
	}

	sess, err := p.deps.Sessions.Create(ctx, p.id)
	if err != nil {
		p.setError(MsgCheckFailed)
		return "", fmt.Errorf("create session: %w", err)
	}

	p.sub.Close()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	stop := p.stopWatch
	p.stopWatch = nil
	p.sessionID = sess.ID
	p.records = nil
	p.mu.Unlock()
	if stop != nil {
		stop()
	}

	if err := p.sub.Open(string(sess.ID)); err != nil {
		p.setError(MsgStreamFailed)
		return sess.ID, fmt.Errorf("subscribe to session %s: %w", sess.ID, err)
	}
	p.watchRecords(sess.ID)

	if err := p.deps.Invoker.Invoke(ctx, sess.ID, p.id); err != nil {
		p.setError(MsgInvokeFailed)
		return sess.ID, fmt.Errorf("invoke safety agent: %w", err)
	}
	p.logger.Info("safety check started", "session_id", string(sess.ID))
	return sess.ID, nil
}

func (p *Page) watchRecords(sessionID types.SessionID) {
	stop := p.deps.Records.Watch(sessionID, func(raw []types.RawRecord) {
		merged := records.Merge(nil, raw)
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.sessionID == sessionID {
			p.records = merged
		}
	})

	p.mu.Lock()
	if p.sessionID != sessionID || p.closed {
		p.mu.Unlock()
		stop()
		return
	}
	p.stopWatch = stop
	p.mu.Unlock()
}

// onTerminal runs when the fragment stream completes, fails or times out.
func (p *Page) onTerminal(st stream.State, err error) {
	if err != nil {
		p.logger.Warn("fragment stream failed", "session_id", p.sub.Key(), "error", err)
		p.setError(MsgStreamFailed)
	} else {
		p.logger.Debug("fragment stream ended", "session_id", p.sub.Key(), "state", st.String())
	}
	p.Reload(context.Background())
}

// Reload refreshes the work order from the store, picking up a safety-check
// result the agent persisted.
func (p *Page) Reload(ctx context.Context) {
	wo, err := p.deps.WorkOrders.Get(ctx, p.id)
	if err != nil {
		p.logger.Warn("reload work order", "error", err)
		return
	}
	p.mu.Lock()
	p.workOrder = wo
	p.mu.Unlock()
}

// PerformHazardCheck loads hazard events around the work order location.
// The widget is hidden while the query runs and remounted afterwards so the
// new markers are drawn on a fresh instance.
func (p *Page) PerformHazardCheck(ctx context.Context) ([]types.HazardFeature, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.loadingHazards {
		p.mu.Unlock()
		return nil, ErrCheckInProgress
	}
	wo := p.workOrder
	p.loadingHazards = true
	p.mu.Unlock()
	defer p.setLoadingHazards(false)

	if !p.widget.State().Expanded {
		return nil, ErrSectionCollapsed
	}

	lat, lng, err := hazard.ParseLocation(wo.Location)
	if err != nil {
		p.setError(MsgLocationIncomplete)
		return nil, &IncompleteLocationError{WorkOrderID: p.id}
	}

	if err := p.hideWidget(ctx); err != nil {
		return nil, err
	}

	feats, err := p.deps.Hazards.Nearby(ctx, lat, lng, p.deps.HazardRadiusKm)
	if err != nil {
		p.setError(MsgHazardCheckFailed)
		return nil, fmt.Errorf("query hazards: %w", err)
	}

	p.mu.Lock()
	p.hazards = feats
	p.hazardsChecked = true
	p.mu.Unlock()
	p.logger.Info("hazard check complete", "hazards", len(feats))
	return feats, nil
}

// hideWidget runs an occlusion cycle and waits for the old instance to be
// detached. A cycle superseded by a newer one (a collapse, teardown or the
// other check) ends with ErrSuperseded.
func (p *Page) hideWidget(ctx context.Context) error {
	cycle := p.widget.Occlude(true)
	select {
	case <-cycle.Detached():
	case <-ctx.Done():
		return ctx.Err()
	}
	if cycle.Superseded() {
		return ErrSuperseded
	}
	return nil
}

// SetLocationExpanded opens or collapses the location section.
func (p *Page) SetLocationExpanded(expanded bool) {
	p.widget.SetExpanded(expanded)
}

// AttachWidget is called by the render layer after mounting the map node.
func (p *Page) AttachWidget() (*widget.Handle, error) {
	if !p.hasCoordinates() {
		return nil, widget.ErrNotRenderable
	}
	return p.widget.Attach()
}

// DetachWidget is called by the render layer after removing the map node.
func (p *Page) DetachWidget() {
	p.widget.Detach()
}

// DismissError clears the current error message.
func (p *Page) DismissError() {
	p.setError("")
}

// Records returns the merged record set of the current session.
func (p *Page) Records() []types.StreamingRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.StreamingRecord(nil), p.records...)
}

// SessionID returns the session of the latest safety check, if any.
func (p *Page) SessionID() types.SessionID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Close tears the page down: the subscription is closed, the record watch
// stopped and the widget unmounted. Close is idempotent.
func (p *Page) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	stop := p.stopWatch
	p.stopWatch = nil
	p.mu.Unlock()

	p.sub.Close()
	if stop != nil {
		stop()
	}
	p.widget.Unmount()
}

func (p *Page) hasCoordinates() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workOrder.HasCoordinates()
}

func (p *Page) setError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errMsg = msg
}

func (p *Page) setLoading(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = v
}

func (p *Page) setLoadingHazards(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadingHazards = v
}

// IsIncompleteLocation reports whether err aborted a hazard check for lack
// of coordinates.
func IsIncompleteLocation(err error) bool {
	var e *IncompleteLocationError
	return errors.As(err, &e)
}
