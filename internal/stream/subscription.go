package stream

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/user/wosafety/internal/clock"
	"github.com/user/wosafety/internal/types"
)

// DefaultTimeout bounds how long a subscription may stay open without a
// completion or error signal.
const DefaultTimeout = 60 * time.Second

// Subscription owns one subscribe/unsubscribe cycle against a Channel and
// feeds the received fragments into a SequencedBuffer. A Subscription may be
// reopened once it has reached a terminal state; every Open starts from an
// empty buffer.
type Subscription struct {
	channel Channel
	clock   clock.Clock
	timeout time.Duration
	logger  *slog.Logger
	buffer  *SequencedBuffer

	mu         sync.Mutex
	state      State
	key        string
	gen        uint64
	handle     Handle
	timer      clock.Timer
	err        error
	done       chan struct{}
	doneClosed bool

	onUpdate   func([]types.Fragment)
	onTerminal func(State, error)
}

// Option configures a Subscription.
type Option func(*Subscription)

// WithClock replaces the real clock used for the idle timeout.
func WithClock(c clock.Clock) Option {
	return func(s *Subscription) { s.clock = c }
}

// WithTimeout sets the idle timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(s *Subscription) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Subscription) { s.logger = l }
}

// NewSubscription creates an idle Subscription on ch.
func NewSubscription(ch Channel, opts ...Option) *Subscription {
	s := &Subscription{
		channel: ch,
		clock:   clock.Real(),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		buffer:  NewSequencedBuffer(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnUpdate registers fn to receive the ordered snapshot after every push event.
func (s *Subscription) OnUpdate(fn func([]types.Fragment)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// OnTerminal registers fn to be called once per cycle when the subscription
// completes, fails or times out. Close does not invoke it.
func (s *Subscription) OnTerminal(fn func(State, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTerminal = fn
}

// Open subscribes to key. It fails with ErrAlreadyOpen while a previous
// cycle is still subscribing or active. Rejections by the channel are
// returned as *ChannelError and leave the subscription Failed.
func (s *Subscription) Open(key string) error {
	s.mu.Lock()
	if s.state == StateSubscribing || s.state == StateActive {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}

	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.buffer.Reset()
	s.key = key
	s.err = nil
	s.done = make(chan struct{})
	s.doneClosed = false

	if key == "" {
		cerr := &ChannelError{Op: "subscribe", Key: key, Err: ErrInvalidKey}
		s.state = StateFailed
		s.err = cerr
		s.closeDoneLocked()
		fn := s.onTerminal
		s.mu.Unlock()
		s.logger.Warn("subscription rejected", "error", cerr)
		if fn != nil {
			fn(StateFailed, cerr)
		}
		return cerr
	}

	s.state = StateSubscribing
	s.timer = s.clock.AfterFunc(s.timeout, func() { s.expire(gen) })
	s.mu.Unlock()

	h, err := s.channel.Subscribe(key, Handlers{
		Next:     func(ev types.PushEvent) { s.next(gen, ev) },
		Error:    func(err error) { s.fail(gen, err) },
		Complete: func() { s.finish(gen, StateCompleted, nil) },
	})

	s.mu.Lock()
	current := gen == s.gen && s.state == StateSubscribing
	if err != nil {
		cerr := &ChannelError{Op: "subscribe", Key: key, Err: err}
		if !current {
			s.mu.Unlock()
			return cerr
		}
		s.state = StateFailed
		s.err = cerr
		s.stopTimerLocked()
		s.closeDoneLocked()
		fn := s.onTerminal
		s.mu.Unlock()
		s.logger.Warn("subscription failed", "key", key, "error", err)
		if fn != nil {
			fn(StateFailed, cerr)
		}
		return cerr
	}
	if !current {
		// Terminated or closed while subscribing; the handle was never stored.
		s.mu.Unlock()
		h.Unsubscribe()
		return nil
	}
	s.state = StateActive
	s.handle = h
	s.mu.Unlock()
	s.logger.Debug("subscription open", "key", key)
	return nil
}

func (s *Subscription) next(gen uint64, ev types.PushEvent) {
	s.mu.Lock()
	if gen != s.gen || s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.buffer.Insert(ev)
	snap := s.buffer.Snapshot()
	fn := s.onUpdate
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (s *Subscription) fail(gen uint64, err error) {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()
	s.finish(gen, StateFailed, &ChannelError{Op: "receive", Key: key, Err: err})
}

func (s *Subscription) expire(gen uint64) {
	if s.finish(gen, StateTimedOut, nil) {
		s.logger.Info("subscription timed out", "key", s.Key(), "timeout", s.timeout)
	}
}

// finish moves the current cycle into a terminal state and releases the
// channel handle. It reports whether the transition happened.
func (s *Subscription) finish(gen uint64, st State, err error) bool {
	s.mu.Lock()
	if gen != s.gen || s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = st
	s.err = err
	s.stopTimerLocked()
	h := s.handle
	s.handle = nil
	s.closeDoneLocked()
	fn := s.onTerminal
	s.mu.Unlock()

	if h != nil {
		h.Unsubscribe()
	}
	if err != nil {
		s.logger.Warn("subscription error", "key", s.Key(), "error", err)
	}
	if fn != nil {
		fn(st, err)
	}
	return true
}

// Close releases the channel handle and cancels the timeout. It is safe to
// call repeatedly and from any state. Events delivered after Close returns
// are dropped.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = StateClosed
	s.stopTimerLocked()
	h := s.handle
	s.handle = nil
	s.closeDoneLocked()
	s.mu.Unlock()

	if h != nil {
		h.Unsubscribe()
	}
}

func (s *Subscription) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Subscription) closeDoneLocked() {
	if !s.doneClosed {
		close(s.done)
		s.doneClosed = true
	}
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Err returns the *ChannelError of a failed cycle, or nil.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done returns a channel closed when the current cycle stops accepting events.
func (s *Subscription) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Snapshot returns the ordered fragments of the current (or last) cycle.
func (s *Subscription) Snapshot() []types.Fragment {
	return s.buffer.Snapshot()
}

// HasContent reports whether the current cycle has buffered any fragment.
func (s *Subscription) HasContent() bool {
	return s.buffer.HasContent()
}

// IsChannelError reports whether err is a *ChannelError.
func IsChannelError(err error) bool {
	var cerr *ChannelError
	return errors.As(err, &cerr)
}
