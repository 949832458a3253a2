// Package coordinator owns the device registry and the gateway session. It
// runs one refresh cycle per tick, reconciles each fetched host list into the
// registry and publishes the result to listeners.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gatewatch/internal/gateway"
	"gatewatch/internal/inventory"
	"gatewatch/internal/metrics"
)

const (
	MinUpdateInterval   = 10 * time.Second
	DefaultCycleTimeout = 10 * time.Second
	DefaultRetention    = 30 * 24 * time.Hour

	releaseTimeout = 2 * time.Second
)

// Recorder journals every finished cycle. *db.Store satisfies this.
type Recorder interface {
	RecordCycle(ctx context.Context, r Result) error
}

type Options struct {
	UpdateInterval time.Duration
	CycleTimeout   time.Duration
	// SessionSettle pauses between login and the host fetch; some gateways
	// return an empty list right after authentication.
	SessionSettle time.Duration
	// Retention of inactive devices. Zero keeps them forever.
	Retention time.Duration
	// Initial seeds the registry, typically from persistence. Every entry
	// starts inactive.
	Initial  inventory.Registry
	Metrics  *metrics.Metrics
	Recorder Recorder
	Clock    func() time.Time
}

type listener struct {
	id int
	fn func(inventory.Registry)
}

type Coordinator struct {
	log      zerolog.Logger
	client   gateway.Client
	timeout  time.Duration
	settle   time.Duration
	retain   time.Duration
	metrics  *metrics.Metrics
	recorder Recorder
	now      func() time.Time

	interval atomic.Int64
	running  atomic.Bool
	trigger  chan struct{}

	// cycleMu serialises everything that holds a gateway session.
	cycleMu sync.Mutex

	mu        sync.RWMutex
	registry  inventory.Registry
	phase     Phase
	status    Status
	info      gateway.Info
	hasInfo   bool
	listeners []listener
	nextID    int
}

// Result summarises one refresh cycle.
type Result struct {
	CycleID    string
	Setup      bool
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Active     int
	Inactive   int
	Pruned     []string
	// Kind and Err are set for failed cycles only.
	Kind gateway.Kind
	Err  error
}

func (r Result) Outcome() string {
	if r.Err != nil {
		return "failure"
	}
	return "success"
}

// Status is a point-in-time view of the coordinator for health reporting.
type Status struct {
	Phase               Phase         `json:"phase"`
	Ready               bool          `json:"ready"`
	Busy                bool          `json:"busy"`
	UpdateInterval      time.Duration `json:"-"`
	Cycles              int           `json:"cycles"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastSuccess         time.Time     `json:"last_success,omitempty"`
	LastFailure         time.Time     `json:"last_failure,omitempty"`
	LastKind            string        `json:"last_error_kind,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	Devices             int           `json:"devices"`
	ActiveDevices       int           `json:"active_devices"`
}

func New(log zerolog.Logger, client gateway.Client, opts Options) *Coordinator {
	timeout := opts.CycleTimeout
	if timeout <= 0 {
		timeout = DefaultCycleTimeout
	}
	settle := opts.SessionSettle
	if settle < 0 {
		settle = 0
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	reg := inventory.Registry{}
	if opts.Initial != nil {
		reg = inventory.Deactivate(opts.Initial)
	}

	c := &Coordinator{
		log:      log,
		client:   client,
		timeout:  timeout,
		settle:   settle,
		retain:   opts.Retention,
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		now:      now,
		trigger:  make(chan struct{}, 1),
		registry: reg,
	}
	c.SetUpdateInterval(opts.UpdateInterval)
	return c
}

// ClampInterval applies the minimum refresh interval.
func ClampInterval(d time.Duration) time.Duration {
	if d < MinUpdateInterval {
		return MinUpdateInterval
	}
	return d
}

// SetUpdateInterval changes the refresh interval and returns the effective,
// clamped value. It takes effect when the timer is next armed.
func (c *Coordinator) SetUpdateInterval(d time.Duration) time.Duration {
	d = ClampInterval(d)
	c.interval.Store(int64(d))
	c.metrics.SetUpdateInterval(d)
	return d
}

func (c *Coordinator) UpdateInterval() time.Duration {
	return time.Duration(c.interval.Load())
}

// Run drives refresh cycles until ctx is done. The timer is re-armed with the
// current interval after every cycle.
func (c *Coordinator) Run(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}

	timer := time.NewTimer(c.UpdateInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-c.trigger:
			timer.Stop()
		}

		if _, err := c.Refresh(ctx); errors.Is(err, ErrCycleInProgress) {
			c.log.Debug().Msg("tick skipped, refresh cycle still running")
		}

		timer.Reset(c.UpdateInterval())
	}
}

// Trigger asks Run for an out-of-band cycle. It fails fast when a cycle is
// already running; repeated triggers before Run picks one up collapse.
func (c *Coordinator) Trigger() error {
	if c.running.Load() {
		return ErrCycleInProgress
	}
	select {
	case c.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Busy reports whether a cycle currently holds the gateway session.
func (c *Coordinator) Busy() bool {
	return c.running.Load()
}

// Data returns a snapshot of the registry. Callers own the returned map.
func (c *Coordinator) Data() inventory.Registry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.Clone()
}

// Device returns a single registry entry.
func (c *Coordinator) Device(id string) (inventory.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.registry[id]
	return d, ok
}

// AddListener registers fn to run after every successful publish. Listeners
// run synchronously on the cycle goroutine and share one snapshot, which they
// must not modify. The returned func deregisters fn.
func (c *Coordinator) AddListener(fn func(inventory.Registry)) (remove func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Coordinator) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	s.Phase = c.phase
	s.Busy = c.Busy()
	s.UpdateInterval = c.UpdateInterval()
	s.Devices = len(c.registry)
	s.ActiveDevices, _ = c.registry.Counts()
	return s
}

// Gateway returns the gateway identity captured by Setup.
func (c *Coordinator) Gateway() (gateway.Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info, c.hasInfo
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Coordinator) snapshotListeners() []listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}
