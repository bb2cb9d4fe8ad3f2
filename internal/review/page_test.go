package review

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/wosafety/internal/channel"
	"github.com/user/wosafety/internal/clock"
	"github.com/user/wosafety/internal/gateway"
	"github.com/user/wosafety/internal/hazard"
	"github.com/user/wosafety/internal/render"
	"github.com/user/wosafety/internal/state"
	"github.com/user/wosafety/internal/stream"
	"github.com/user/wosafety/internal/types"
	"github.com/user/wosafety/internal/widget"
)

type fakeInvoker struct {
	mu    sync.Mutex
	err   error
	calls []types.SessionID
}

func (f *fakeInvoker) Invoke(_ context.Context, sessionID types.SessionID, _ types.WorkOrderID, _ ...gateway.RunOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sessionID)
	return f.err
}

type failingFeed struct{}

func (failingFeed) Nearby(context.Context, float64, float64, float64) ([]types.HazardFeature, error) {
	return nil, errors.New("feed offline")
}

type failingSessions struct{ types.SessionStore }

func (failingSessions) Create(context.Context, types.WorkOrderID) (*types.Session, error) {
	return nil, errors.New("disk full")
}

type env struct {
	deps    Deps
	clock   *clock.Fake
	hub     *channel.Hub
	orders  *state.WorkOrderStore
	records *state.RecordStore
	invoker *fakeInvoker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	fc := clock.NewFake(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	e := &env{
		clock:   fc,
		hub:     channel.NewHub(fc, channel.DefaultRetention),
		orders:  state.NewWorkOrderStore(filepath.Join(dir, "workorders.json")),
		records: state.NewRecordStore(dir),
		invoker: &fakeInvoker{},
	}
	e.deps = Deps{
		WorkOrders: e.orders,
		Sessions:   state.NewSessionStore(dir),
		Records:    e.records,
		Channel:    e.hub,
		Invoker:    e.invoker,
		Hazards: &hazard.Stub{Features: []types.HazardFeature{{
			Type:       "Feature",
			Geometry:   types.Geometry{Type: "Point", Coordinates: []any{151.21, -33.87}},
			Properties: types.HazardProperties{ID: "h1", Category1: "Fire", Location: "Ridge Rd"},
		}}},
		Clock: fc,
	}

	ctx := context.Background()
	require.NoError(t, e.orders.Put(ctx, &types.WorkOrder{
		ID:           "WO-1",
		Description:  "Replace transformer",
		Status:       "Approved",
		LocationName: "Depot",
		Location:     &types.Location{Latitude: "-33.86", Longitude: "151.20"},
	}))
	require.NoError(t, e.orders.Put(ctx, &types.WorkOrder{
		ID:           "WO-2",
		Description:  "No coordinates",
		Status:       "Pending",
		LocationName: "Somewhere",
	}))
	return e
}

func (e *env) open(t *testing.T, id types.WorkOrderID) *Page {
	t.Helper()
	p, err := Open(context.Background(), e.deps, id)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	e.clock.Advance(widget.DefaultMountDelay)
	return p
}

// runCheck performs a safety check with the section expanded, releasing the
// hide grace period on the fake clock.
func (e *env) runCheck(t *testing.T, p *Page) types.SessionID {
	t.Helper()
	type result struct {
		id  types.SessionID
		err error
	}
	out := make(chan result, 1)
	go func() {
		id, err := p.PerformSafetyCheck(context.Background())
		out <- result{id, err}
	}()
	require.Eventually(t, func() bool { return e.clock.Pending() > 0 }, time.Second, 5*time.Millisecond)
	e.clock.Advance(widget.DefaultHideGrace)

	select {
	case r := <-out:
		require.NoError(t, r.err)
		return r.id
	case <-time.After(2 * time.Second):
		t.Fatal("safety check did not return")
		return ""
	}
}

func TestOpenShowsStoredResult(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.orders.SetSafetyCheck(ctx, "WO-1", `"<p>Risk: Low</p>"`, time.Now()))

	p := e.open(t, "WO-1")
	v := p.View()
	assert.Equal(t, render.IndicatorSuccess, v.Indicator)
	assert.Equal(t, "Risk: Low", v.Response)
	assert.False(t, v.Streaming)
	require.NotNil(t, v.Map)
	assert.True(t, v.Map.ShouldRender)
	assert.True(t, v.Map.Available)
	assert.Equal(t, [2]float64{151.20, -33.86}, v.Map.Center)
}

func TestOpenUnknownWorkOrder(t *testing.T) {
	e := newEnv(t)
	_, err := Open(context.Background(), e.deps, "WO-404")
	require.Error(t, err)
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestNoResultMessage(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-2")
	assert.Equal(t, render.NoResultMessage, p.View().Response)
}

func TestSafetyCheckStreamsFragments(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")

	sid := e.runCheck(t, p)
	require.NotEmpty(t, sid)
	assert.Equal(t, []types.SessionID{sid}, e.invoker.calls)

	v := p.View()
	assert.True(t, v.Streaming)
	assert.Equal(t, render.WaitingMessage, v.Response)
	assert.False(t, v.Loading)
	assert.False(t, v.Map.ShouldRender, "widget stays hidden until the restore delay")

	e.clock.Advance(widget.DefaultRestoreDelay)
	assert.True(t, p.View().Map.ShouldRender)

	key := string(sid)
	e.hub.Publish(key, types.PushEvent{Index: types.IndexOf(1), Chunk: "world"})
	e.hub.Publish(key, types.PushEvent{Index: types.IndexOf(0), Chunk: "hello "})
	require.Eventually(t, func() bool {
		return p.View().Response == "hello world"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.orders.SetSafetyCheck(context.Background(), "WO-1", "hello world", time.Now()))
	e.hub.Complete(key)
	require.Eventually(t, func() bool {
		return p.Subscription().State() == stream.StateCompleted
	}, 2*time.Second, 5*time.Millisecond)

	v = p.View()
	assert.False(t, v.Streaming)
	assert.Equal(t, "hello world", v.Response)
	assert.Equal(t, "hello world", v.WorkOrder.SafetyCheckResponse, "work order reloaded on completion")
}

func TestSafetyCheckTracksRecords(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")
	p.SetLocationExpanded(false)

	sid, err := p.PerformSafetyCheck(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.records.Append(ctx, &types.StreamingRecord{SessionID: sid, Role: types.RoleHuman, Content: "check"}))
	require.NoError(t, e.records.Append(ctx, &types.StreamingRecord{SessionID: sid, Role: types.RoleAI, Content: "done", ResponseComplete: true}))

	recs := p.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, types.RoleHuman, recs[0].Role)
	assert.True(t, recs[1].ResponseComplete)
}

func TestSafetyCheckNewSessionReplacesOld(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")
	p.SetLocationExpanded(false)

	first, err := p.PerformSafetyCheck(context.Background())
	require.NoError(t, err)
	e.hub.Publish(string(first), types.PushEvent{Chunk: "old"})
	require.Eventually(t, func() bool { return p.Subscription().HasContent() }, 2*time.Second, 5*time.Millisecond)

	second, err := p.PerformSafetyCheck(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	assert.Equal(t, render.WaitingMessage, p.View().Response, "buffer starts empty for the new session")
	assert.Equal(t, 0, e.hub.Subscribers(string(first)))

	e.hub.Publish(string(first), types.PushEvent{Chunk: "stale"})
	e.hub.Publish(string(second), types.PushEvent{Chunk: "fresh"})
	require.Eventually(t, func() bool { return p.View().Response == "fresh" }, 2*time.Second, 5*time.Millisecond)
}

func TestSafetyCheckStreamFailure(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")
	p.SetLocationExpanded(false)

	sid, err := p.PerformSafetyCheck(context.Background())
	require.NoError(t, err)

	e.hub.Fail(string(sid), errors.New("agent crashed"))
	require.Eventually(t, func() bool { return p.View().Error == MsgStreamFailed }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, stream.IsChannelError(p.Subscription().Err()))

	p.DismissError()
	assert.Empty(t, p.View().Error)
}

func TestSafetyCheckTimeoutKeepsFragments(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")
	p.SetLocationExpanded(false)

	sid, err := p.PerformSafetyCheck(context.Background())
	require.NoError(t, err)
	e.hub.Publish(string(sid), types.PushEvent{Chunk: "partial"})
	require.Eventually(t, func() bool { return p.Subscription().HasContent() }, 2*time.Second, 5*time.Millisecond)

	e.clock.Advance(stream.DefaultTimeout)
	v := p.View()
	assert.Equal(t, stream.StateTimedOut.String(), v.StreamState)
	assert.Equal(t, "partial", v.Response)
	assert.Empty(t, v.Error, "timeout is not an error")
}

func TestSafetyCheckInvokeFailure(t *testing.T) {
	e := newEnv(t)
	e.invoker.err = errors.New("queue full")
	p := e.open(t, "WO-1")
	p.SetLocationExpanded(false)

	_, err := p.PerformSafetyCheck(context.Background())
	require.Error(t, err)
	v := p.View()
	assert.Equal(t, MsgInvokeFailed, v.Error)
	assert.False(t, v.Loading)
}

func TestSafetyCheckSessionFailure(t *testing.T) {
	e := newEnv(t)
	e.deps.Sessions = failingSessions{e.deps.Sessions}
	p := e.open(t, "WO-1")
	p.SetLocationExpanded(false)

	_, err := p.PerformSafetyCheck(context.Background())
	require.Error(t, err)
	assert.Equal(t, MsgCheckFailed, p.View().Error)
	assert.Empty(t, e.invoker.calls)
}

func TestSafetyCheckCancelledWhileHiding(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.PerformSafetyCheck(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.invoker.calls)
}

func TestSafetyCheckRejectsOverlap(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")

	first := make(chan error, 1)
	go func() {
		_, err := p.PerformSafetyCheck(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return e.clock.Pending() > 0 }, time.Second, 5*time.Millisecond)

	_, err := p.PerformSafetyCheck(context.Background())
	require.ErrorIs(t, err, ErrCheckInProgress)
	assert.True(t, p.View().Loading, "the running check still owns the loading flag")

	e.clock.Advance(widget.DefaultHideGrace)
	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first safety check did not return")
	}

	e.invoker.mu.Lock()
	defer e.invoker.mu.Unlock()
	assert.Len(t, e.invoker.calls, 1)
	assert.False(t, p.View().Loading)
}

func TestSafetyCheckAbortsWhenHidingSuperseded(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")

	done := make(chan error, 1)
	go func() {
		_, err := p.PerformSafetyCheck(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return e.clock.Pending() > 0 }, time.Second, 5*time.Millisecond)

	p.SetLocationExpanded(false)
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("safety check did not return")
	}

	v := p.View()
	assert.False(t, v.Loading)
	assert.Empty(t, v.SessionID)
	assert.Empty(t, e.invoker.calls)
}

func TestHazardCheckRejectsOverlap(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")

	first := make(chan error, 1)
	go func() {
		_, err := p.PerformHazardCheck(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return e.clock.Pending() > 0 }, time.Second, 5*time.Millisecond)

	_, err := p.PerformHazardCheck(context.Background())
	require.ErrorIs(t, err, ErrCheckInProgress)
	assert.True(t, p.View().LoadingHazards)

	e.clock.Advance(widget.DefaultHideGrace)
	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hazard check did not return")
	}
	assert.Len(t, p.View().Hazards, 1)
}

func TestHazardCheck(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")

	done := make(chan error, 1)
	go func() {
		_, err := p.PerformHazardCheck(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return e.clock.Pending() > 0 }, time.Second, 5*time.Millisecond)
	e.clock.Advance(widget.DefaultHideGrace)
	require.NoError(t, <-done)

	e.clock.Advance(widget.DefaultRestoreDelay)
	v := p.View()
	assert.True(t, v.HazardsChecked)
	assert.False(t, v.LoadingHazards)
	require.Len(t, v.Map.Markers, 1)
	assert.Equal(t, "#ff0000", v.Map.Markers[0].Color)
	assert.Equal(t, "Fire: Ridge Rd", v.Map.Markers[0].Label)
	assert.True(t, v.Map.ShouldRender)
}

func TestHazardCheckIncompleteLocation(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-2")
	before := p.Widget().State()

	_, err := p.PerformHazardCheck(context.Background())
	require.Error(t, err)
	assert.True(t, IsIncompleteLocation(err))
	assert.Equal(t, MsgLocationIncomplete, p.View().Error)
	assert.Equal(t, before.Token, p.Widget().State().Token, "widget untouched")
	assert.False(t, p.View().LoadingHazards)
}

func TestHazardCheckRequiresExpandedSection(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")
	p.SetLocationExpanded(false)

	_, err := p.PerformHazardCheck(context.Background())
	assert.ErrorIs(t, err, ErrSectionCollapsed)
}

func TestHazardCheckFeedFailure(t *testing.T) {
	e := newEnv(t)
	e.deps.Hazards = failingFeed{}
	e.deps.Widget = widget.Options{HideGrace: time.Nanosecond}
	p := e.open(t, "WO-1")

	done := make(chan error, 1)
	go func() {
		_, err := p.PerformHazardCheck(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return e.clock.Pending() > 0 }, time.Second, 5*time.Millisecond)
	e.clock.Advance(time.Nanosecond)
	require.Error(t, <-done)
	assert.Equal(t, MsgHazardCheckFailed, p.View().Error)
}

func TestAttachWidget(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")

	h, err := p.AttachWidget()
	require.NoError(t, err)
	assert.Equal(t, p.Widget().State().DOMNodeID, h.DOMNodeID)
	assert.True(t, p.View().Map.Live)

	p.DetachWidget()
	assert.False(t, h.Live())
}

func TestAttachWidgetWithoutCoordinates(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-2")

	_, err := p.AttachWidget()
	assert.ErrorIs(t, err, widget.ErrNotRenderable)
	assert.False(t, p.View().Map.Available)
}

func TestCloseTearsDown(t *testing.T) {
	e := newEnv(t)
	p := e.open(t, "WO-1")
	p.SetLocationExpanded(false)
	p.SetLocationExpanded(true)
	e.clock.Advance(widget.DefaultExpandDelay)

	h, err := p.AttachWidget()
	require.NoError(t, err)

	p.SetLocationExpanded(false)
	sid, err := p.PerformSafetyCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, e.hub.Subscribers(string(sid)))

	p.Close()
	p.Close()
	assert.False(t, h.Live())
	assert.Equal(t, stream.StateClosed, p.Subscription().State())
	assert.Equal(t, 0, e.hub.Subscribers(string(sid)))

	_, err = p.PerformSafetyCheck(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
