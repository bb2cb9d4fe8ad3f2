package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/wosafety/internal/clock"
	"github.com/user/wosafety/internal/types"
)

type fakeHandle struct {
	mu    sync.Mutex
	calls int
}

func (h *fakeHandle) Unsubscribe() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
}

func (h *fakeHandle) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type fakeChannel struct {
	err      error
	handlers []Handlers
	handles  []*fakeHandle
}

func (c *fakeChannel) Subscribe(key string, h Handlers) (Handle, error) {
	if c.err != nil {
		return nil, c.err
	}
	handle := &fakeHandle{}
	c.handlers = append(c.handlers, h)
	c.handles = append(c.handles, handle)
	return handle, nil
}

func (c *fakeChannel) last() Handlers { return c.handlers[len(c.handlers)-1] }

func newTestSubscription(ch Channel) (*Subscription, *clock.Fake) {
	fc := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewSubscription(ch, WithClock(fc)), fc
}

func TestSubscriptionScenario(t *testing.T) {
	ch := &fakeChannel{}
	sub, _ := newTestSubscription(ch)

	var updates int
	sub.OnUpdate(func([]types.Fragment) { updates++ })

	require.NoError(t, sub.Open("session-1"))
	assert.Equal(t, StateActive, sub.State())
	assert.Equal(t, []types.Fragment{{Index: -1}}, sub.Snapshot())

	h := ch.last()
	h.Next(ev(2, "c"))
	h.Next(ev(0, "a"))
	h.Next(ev(1, "b"))

	assert.Equal(t, []types.Fragment{
		{Index: 0, Content: "a"},
		{Index: 1, Content: "b"},
		{Index: 2, Content: "c"},
	}, sub.Snapshot())
	assert.Equal(t, 3, updates)
	assert.Equal(t, StateActive, sub.State())
}

func TestSubscriptionRejectsEmptyKey(t *testing.T) {
	ch := &fakeChannel{}
	sub, _ := newTestSubscription(ch)

	err := sub.Open("")
	var cerr *ChannelError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, StateFailed, sub.State())
	assert.Empty(t, ch.handlers)
}

func TestSubscriptionSubscribeError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("refused")}
	sub, fc := newTestSubscription(ch)

	err := sub.Open("session-1")
	assert.True(t, IsChannelError(err))
	assert.Equal(t, StateFailed, sub.State())
	assert.Equal(t, 0, fc.Pending())
}

func TestSubscriptionDoubleOpen(t *testing.T) {
	ch := &fakeChannel{}
	sub, _ := newTestSubscription(ch)
	require.NoError(t, sub.Open("a"))
	assert.ErrorIs(t, sub.Open("b"), ErrAlreadyOpen)
	assert.Equal(t, "a", sub.Key())
}

func TestSubscriptionComplete(t *testing.T) {
	ch := &fakeChannel{}
	sub, fc := newTestSubscription(ch)

	var terminal []State
	sub.OnTerminal(func(st State, err error) {
		assert.NoError(t, err)
		terminal = append(terminal, st)
	})

	require.NoError(t, sub.Open("s"))
	ch.last().Next(ev(0, "done"))
	ch.last().Complete()

	assert.Equal(t, StateCompleted, sub.State())
	assert.Equal(t, 1, ch.handles[0].Calls())
	assert.Equal(t, []State{StateCompleted}, terminal)
	assert.Equal(t, 0, fc.Pending())

	select {
	case <-sub.Done():
	default:
		t.Fatal("done channel should be closed")
	}

	ch.last().Next(ev(1, "late"))
	assert.Len(t, sub.Snapshot(), 1)
}

func TestSubscriptionMidStreamError(t *testing.T) {
	ch := &fakeChannel{}
	sub, _ := newTestSubscription(ch)

	var got error
	sub.OnTerminal(func(_ State, err error) { got = err })

	require.NoError(t, sub.Open("s"))
	ch.last().Error(errors.New("socket reset"))

	assert.Equal(t, StateFailed, sub.State())
	var cerr *ChannelError
	require.ErrorAs(t, sub.Err(), &cerr)
	assert.Equal(t, "receive", cerr.Op)
	assert.Equal(t, sub.Err(), got)
	assert.Equal(t, 1, ch.handles[0].Calls())
}

func TestSubscriptionTimeoutAndReopen(t *testing.T) {
	ch := &fakeChannel{}
	sub, fc := newTestSubscription(ch)

	require.NoError(t, sub.Open("s"))
	ch.last().Next(ev(0, "partial"))

	fc.Advance(59 * time.Second)
	assert.Equal(t, StateActive, sub.State())

	fc.Advance(time.Second)
	assert.Equal(t, StateTimedOut, sub.State())
	assert.NoError(t, sub.Err())
	assert.Equal(t, 1, ch.handles[0].Calls())
	assert.Equal(t, []types.Fragment{{Index: 0, Content: "partial"}}, sub.Snapshot())

	require.NoError(t, sub.Open("s"))
	assert.Equal(t, StateActive, sub.State())
	assert.Equal(t, []types.Fragment{{Index: -1}}, sub.Snapshot())

	// Events from the previous cycle's handlers are ignored.
	ch.handlers[0].Next(ev(5, "stale"))
	assert.Equal(t, []types.Fragment{{Index: -1}}, sub.Snapshot())
}

func TestSubscriptionCustomTimeout(t *testing.T) {
	ch := &fakeChannel{}
	fc := clock.NewFake(time.Unix(0, 0))
	sub := NewSubscription(ch, WithClock(fc), WithTimeout(5*time.Second))

	require.NoError(t, sub.Open("s"))
	fc.Advance(5 * time.Second)
	assert.Equal(t, StateTimedOut, sub.State())
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	ch := &fakeChannel{}
	sub, fc := newTestSubscription(ch)

	require.NoError(t, sub.Open("s"))
	sub.Close()
	sub.Close()

	assert.Equal(t, StateClosed, sub.State())
	assert.Equal(t, 1, ch.handles[0].Calls())
	assert.Equal(t, 0, fc.Pending())

	ch.last().Next(ev(0, "after close"))
	ch.last().Complete()
	assert.Equal(t, StateClosed, sub.State())
	assert.Equal(t, []types.Fragment{{Index: -1}}, sub.Snapshot())
}

func TestSubscriptionCloseFromIdle(t *testing.T) {
	sub, _ := newTestSubscription(&fakeChannel{})
	sub.Close()
	assert.Equal(t, StateClosed, sub.State())
	<-sub.Done()
}

func TestSubscriptionTerminalDuringSubscribe(t *testing.T) {
	sub, _ := newTestSubscription(nil)
	handle := &fakeHandle{}
	sub.channel = channelFunc(func(key string, h Handlers) (Handle, error) {
		h.Complete()
		return handle, nil
	})

	require.NoError(t, sub.Open("s"))
	assert.Equal(t, StateCompleted, sub.State())
	assert.Equal(t, 1, handle.Calls())
}

type channelFunc func(string, Handlers) (Handle, error)

func (f channelFunc) Subscribe(key string, h Handlers) (Handle, error) { return f(key, h) }

func TestStateString(t *testing.T) {
	assert.Equal(t, "timed_out", StateTimedOut.String())
	assert.True(t, StateClosed.Terminal())
	assert.False(t, StateActive.Terminal())
}
