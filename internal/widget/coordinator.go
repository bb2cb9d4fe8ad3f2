package widget

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/wosafety/internal/clock"
)

// ErrNotRenderable is returned by Attach while the slot is hidden.
var ErrNotRenderable = errors.New("widget slot is not renderable")

const (
	DefaultMountDelay   = 100 * time.Millisecond
	DefaultHideGrace    = 200 * time.Millisecond
	DefaultRestoreDelay = 500 * time.Millisecond
	DefaultExpandDelay  = 200 * time.Millisecond
)

// Options configures a Coordinator. Zero durations use the defaults.
type Options struct {
	MountDelay   time.Duration
	HideGrace    time.Duration
	RestoreDelay time.Duration
	ExpandDelay  time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// State is what the render layer needs to draw the slot.
type State struct {
	ShouldRender bool   `json:"should_render"`
	Expanded     bool   `json:"expanded"`
	InstanceID   string `json:"instance_id"`
	DOMNodeID    string `json:"dom_node_id"`
	Token        uint64 `json:"token"`
	Live         bool   `json:"live"`
}

// Cycle is one hide/invalidate/remount sequence.
type Cycle struct {
	Token uint64

	once       sync.Once
	detached   chan struct{}
	superseded bool
}

// Detached is closed once the previous widget has been invalidated and a new
// identity issued, or when a later trigger superseded this cycle.
func (c *Cycle) Detached() <-chan struct{} { return c.detached }

// Superseded reports whether a later trigger replaced this cycle before it
// reached the invalidation step.
func (c *Cycle) Superseded() bool {
	select {
	case <-c.detached:
		return c.superseded
	default:
		return false
	}
}

func (c *Cycle) finish(superseded bool) {
	c.once.Do(func() {
		c.superseded = superseded
		close(c.detached)
	})
}

// Coordinator serializes hide, invalidate and remount of the widget slot.
// Every trigger issues a new cycle token; delayed steps of older cycles are
// dropped, so at most one restore is ever applied per token.
type Coordinator struct {
	registry *Registry
	clock    clock.Clock
	logger   *slog.Logger

	mountDelay   time.Duration
	hideGrace    time.Duration
	restoreDelay time.Duration
	expandDelay  time.Duration

	mu           sync.Mutex
	shouldRender bool
	expanded     bool
	unmounted    bool
	instanceID   string
	token        uint64
	seq          uint64
	current      *Cycle
	timers       []clock.Timer
	handle       *Handle
	listener     func(State)
}

func NewCoordinator(registry *Registry, opts Options) *Coordinator {
	c := &Coordinator{
		registry:     registry,
		clock:        opts.Clock,
		logger:       opts.Logger,
		mountDelay:   orDefault(opts.MountDelay, DefaultMountDelay),
		hideGrace:    orDefault(opts.HideGrace, DefaultHideGrace),
		restoreDelay: orDefault(opts.RestoreDelay, DefaultRestoreDelay),
		expandDelay:  orDefault(opts.ExpandDelay, DefaultExpandDelay),
		expanded:     true,
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.instanceID = c.newInstanceIDLocked()
	return c
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// OnChange registers fn to receive the slot state after every transition.
func (c *Coordinator) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = fn
}

// Mount prepares the slot on page load and shows it after the mount delay.
func (c *Coordinator) Mount() *Cycle {
	c.mu.Lock()
	c.unmounted = false
	c.mu.Unlock()
	return c.occlude(true, c.mountDelay, nil, false)
}

// Occlude hides the widget for a background operation. With restore set the
// widget reappears after the restore delay, provided the section is expanded
// and no later trigger has superseded this one.
func (c *Coordinator) Occlude(restore bool) *Cycle {
	return c.occlude(restore, c.restoreDelay, nil, true)
}

// Collapse hides the section. The widget stays hidden until Expand.
func (c *Coordinator) Collapse() *Cycle {
	expanded := false
	return c.occlude(false, 0, &expanded, true)
}

// Expand opens the section and shows a fresh widget after the expand delay.
func (c *Coordinator) Expand() *Cycle {
	expanded := true
	return c.occlude(true, c.expandDelay, &expanded, true)
}

// SetExpanded dispatches to Expand or Collapse.
func (c *Coordinator) SetExpanded(expanded bool) *Cycle {
	if expanded {
		return c.Expand()
	}
	return c.Collapse()
}

// occlude runs one cycle. The grace period applies only when grace is set and
// the section was expanded before the trigger.
func (c *Coordinator) occlude(restore bool, delay time.Duration, expand *bool, grace bool) *Cycle {
	c.mu.Lock()
	wasExpanded := c.expanded
	if expand != nil {
		c.expanded = *expand
	}
	c.token++
	cycle := &Cycle{Token: c.token, detached: make(chan struct{})}
	c.supersedeLocked()
	c.current = cycle
	c.shouldRender = false

	if c.unmounted {
		c.current = nil
		c.mu.Unlock()
		cycle.finish(true)
		return cycle
	}

	wait := grace && wasExpanded
	if wait {
		c.timers = append(c.timers, c.clock.AfterFunc(c.hideGrace, func() {
			c.detach(cycle, restore, delay)
		}))
	}
	st := c.stateLocked()
	fn := c.listener
	c.mu.Unlock()

	if fn != nil {
		fn(st)
	}
	if !wait {
		c.detach(cycle, restore, delay)
	}
	return cycle
}

// supersedeLocked stops the delayed steps of the in-flight cycle.
func (c *Coordinator) supersedeLocked() {
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	if c.current != nil {
		c.current.finish(true)
		c.current = nil
	}
}

func (c *Coordinator) detach(cycle *Cycle, restore bool, delay time.Duration) {
	c.mu.Lock()
	if cycle.Token != c.token || c.unmounted {
		c.mu.Unlock()
		cycle.finish(true)
		return
	}
	c.registry.InvalidateAll()
	c.handle = nil
	c.instanceID = c.newInstanceIDLocked()
	if restore && c.expanded {
		token := cycle.Token
		c.timers = append(c.timers, c.clock.AfterFunc(delay, func() {
			c.restore(token)
		}))
	} else {
		c.current = nil
	}
	st := c.stateLocked()
	fn := c.listener
	c.mu.Unlock()

	cycle.finish(false)
	c.logger.Debug("widget invalidated", "instance_id", st.InstanceID, "token", st.Token, "restore", restore)
	if fn != nil {
		fn(st)
	}
}

func (c *Coordinator) restore(token uint64) {
	c.mu.Lock()
	if token != c.token || c.unmounted || !c.expanded {
		c.mu.Unlock()
		return
	}
	c.shouldRender = true
	c.current = nil
	c.timers = nil
	st := c.stateLocked()
	fn := c.listener
	c.mu.Unlock()

	if fn != nil {
		fn(st)
	}
}

// Unmount tears the slot down for good: pending steps are cancelled and the
// registry invalidated. A later Mount brings it back.
func (c *Coordinator) Unmount() {
	c.mu.Lock()
	c.token++
	c.supersedeLocked()
	c.shouldRender = false
	c.unmounted = true
	c.registry.InvalidateAll()
	c.handle = nil
	st := c.stateLocked()
	fn := c.listener
	c.mu.Unlock()

	if fn != nil {
		fn(st)
	}
}

// Attach is called by the render layer once it has mounted the DOM node for
// the current instance. A stale handle is released first. A duplicate mount
// is logged and repaired by invalidating the registry.
func (c *Coordinator) Attach() (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.shouldRender || c.unmounted {
		return nil, ErrNotRenderable
	}
	domID := domNodeID(c.instanceID)
	if c.handle != nil {
		if c.handle.DOMNodeID == domID && c.handle.Live() {
			return c.handle, nil
		}
		c.registry.Release(c.handle)
		c.handle = nil
	}

	h := &Handle{InstanceID: c.instanceID, DOMNodeID: domID}
	if err := c.registry.Register(h); err != nil {
		var dup *DuplicateDomNodeError
		if !errors.As(err, &dup) {
			return nil, err
		}
		c.logger.Warn("duplicate widget mount, invalidating registry", "dom_node_id", dup.DOMNodeID, "existing", dup.Existing, "incoming", dup.Incoming)
		c.registry.InvalidateAll()
		if err := c.registry.Register(h); err != nil {
			return nil, fmt.Errorf("register widget after invalidation: %w", err)
		}
	}
	c.handle = h
	return h, nil
}

// Detach is called by the render layer when the DOM node is removed.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		c.registry.Release(c.handle)
		c.handle = nil
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() State {
	return State{
		ShouldRender: c.shouldRender,
		Expanded:     c.expanded,
		InstanceID:   c.instanceID,
		DOMNodeID:    domNodeID(c.instanceID),
		Token:        c.token,
		Live:         c.handle != nil && c.handle.Live(),
	}
}

func (c *Coordinator) newInstanceIDLocked() string {
	c.seq++
	return fmt.Sprintf("widget-%d-%d-%s", c.clock.Now().UnixMilli(), c.seq, uuid.NewString()[:8])
}

func domNodeID(instanceID string) string {
	return "map-container-" + instanceID
}
