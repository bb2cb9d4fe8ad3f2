package channel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/user/wosafety/internal/clock"
	"github.com/user/wosafety/internal/stream"
	"github.com/user/wosafety/internal/types"
)

// DefaultRetention is how long a finished stream stays replayable.
const DefaultRetention = 5 * time.Minute

// Hub fans push events out to subscribers by session key. Each subscriber
// gets its own lane goroutine, so its handlers never run concurrently.
// Streams are replayed to late subscribers until the retention period after
// they finish has passed.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[uint64]*subscriber
	history map[string][]Frame
	expiry  map[string]clock.Timer
	nextID  uint64

	clock     clock.Clock
	retention time.Duration
	laneSize  int
}

type subscriber struct {
	id     uint64
	key    string
	hub    *Hub
	h      stream.Handlers
	frames chan Frame
	quit   chan struct{}
	once   sync.Once
}

// NewHub creates a Hub. A nil clock uses the real clock and a non-positive
// retention uses DefaultRetention.
func NewHub(c clock.Clock, retention time.Duration) *Hub {
	if c == nil {
		c = clock.Real()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Hub{
		subs:      make(map[string]map[uint64]*subscriber),
		history:   make(map[string][]Frame),
		expiry:    make(map[string]clock.Timer),
		clock:     c,
		retention: retention,
		laneSize:  256,
	}
}

// Subscribe implements stream.Channel.
func (hub *Hub) Subscribe(key string, h stream.Handlers) (stream.Handle, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	hub.mu.Lock()
	hub.nextID++
	s := &subscriber{
		id:   hub.nextID,
		key:  key,
		hub:  hub,
		h:    h,
		quit: make(chan struct{}),
	}
	backlog := hub.history[key]
	size := hub.laneSize
	if len(backlog) > size {
		size = len(backlog)
	}
	s.frames = make(chan Frame, size)
	for _, f := range backlog {
		s.frames <- f
	}
	if hub.subs[key] == nil {
		hub.subs[key] = make(map[uint64]*subscriber)
	}
	hub.subs[key][s.id] = s
	hub.mu.Unlock()

	go s.run()
	slog.Debug("stream subscriber added", "session_id", key, "replayed", len(backlog))
	return s, nil
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.quit:
			return
		case f := <-s.frames:
			select {
			case <-s.quit:
				return
			default:
			}
			if f.dispatch(s.h) {
				s.Unsubscribe()
				return
			}
		}
	}
}

// Unsubscribe releases the subscriber. It never blocks and may be called
// from inside a handler.
func (s *subscriber) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.hub.remove(s)
	})
}

func (hub *Hub) remove(s *subscriber) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if subs := hub.subs[s.key]; subs != nil {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(hub.subs, s.key)
		}
	}
}

// Publish delivers a fragment to every subscriber of key.
func (hub *Hub) Publish(key string, ev types.PushEvent) {
	hub.broadcast(key, nextFrame(ev))
}

// Complete ends the stream for key.
func (hub *Hub) Complete(key string) {
	hub.broadcast(key, Frame{Type: FrameComplete})
}

// Fail ends the stream for key with an error.
func (hub *Hub) Fail(key string, err error) {
	hub.broadcast(key, Frame{Type: FrameError, Error: err.Error()})
}

func (hub *Hub) broadcast(key string, f Frame) {
	hub.mu.Lock()
	hub.history[key] = append(hub.history[key], f)
	if f.terminal() {
		if t := hub.expiry[key]; t != nil {
			t.Stop()
		}
		hub.expiry[key] = hub.clock.AfterFunc(hub.retention, func() { hub.Forget(key) })
	}
	targets := make([]*subscriber, 0, len(hub.subs[key]))
	for _, s := range hub.subs[key] {
		targets = append(targets, s)
	}
	hub.mu.Unlock()

	for _, s := range targets {
		select {
		case s.frames <- f:
		case <-s.quit:
		}
	}
}

// Forget drops the replay history of key.
func (hub *Hub) Forget(key string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	delete(hub.history, key)
	if t := hub.expiry[key]; t != nil {
		t.Stop()
		delete(hub.expiry, key)
	}
}

// Subscribers returns the number of live subscribers of key.
func (hub *Hub) Subscribers(key string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subs[key])
}
