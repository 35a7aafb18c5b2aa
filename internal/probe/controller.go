package probe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baptistax/ice-probe/internal/eventlog"
	"github.com/baptistax/ice-probe/internal/transport"
)

const DefaultTimeout = 30 * time.Second

type Options struct {
	// Timeout is the gathering deadline measured from session start.
	Timeout time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
	// Sinks are subscribed to the event log of every new session.
	Sinks []func(sessionID string) eventlog.Sink
	// NewID overrides session id generation.
	NewID func() string
}

// Controller runs one probe at a time. Independent controllers share nothing,
// so a service runs one per concurrent request.
type Controller struct {
	dialer transport.Dialer
	opts   Options

	mu  sync.Mutex
	cur *run
}

// run ties a session to the transport and timer serving it.
type run struct {
	session *Session
	bridge  *bridge
	timer   *time.Timer
	cancel  chan struct{}

	mu        sync.Mutex
	transport transport.Transport
	released  bool
}

func NewController(dialer transport.Dialer, opts Options) *Controller {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &Controller{dialer: dialer, opts: opts}
}

// Start validates cfg and begins a new probe. Only a *ConfigError is returned;
// transport failures are recorded on the returned session. Start does not
// wait for gathering to finish.
func (c *Controller) Start(cfg ServerConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		if c.cur.session.State() == StateGathering {
			c.cur.session.Log().Warnf("probe superseded by a new start request")
		}
		c.stopLocked(errSuperseded)
	}

	id := c.opts.NewID()
	logger := c.opts.Logger.With("session", id)
	log := eventlog.New(eventlog.WithClock(c.opts.Now), eventlog.WithLogger(logger))
	for _, mk := range c.opts.Sinks {
		log.Subscribe(mk(id))
	}

	sess := newSession(id, cfg, c.opts.Timeout, c.opts.Now, log)
	if err := sess.Start(); err != nil {
		return nil, err
	}

	r := &run{
		session: sess,
		bridge:  &bridge{session: sess},
		cancel:  make(chan struct{}),
	}
	c.cur = r

	// The deadline runs from startedAt, so a slow Dial eats into it.
	r.timer = time.NewTimer(c.opts.Timeout)
	go c.watch(r)

	tr, err := c.dialer.Dial(cfg.ICEServers(), r.bridge)
	if err != nil {
		sess.Fail(&TransportError{Op: "dial", Err: err})
		return sess, nil
	}
	if !r.attach(tr) {
		// Timed out while dialing.
		return sess, nil
	}

	if err := tr.Prime(); err != nil {
		sess.Fail(&TransportError{Op: "prime", Err: err})
	}
	return sess, nil
}

// watch races the completion signal against the deadline timer.
func (c *Controller) watch(r *run) {
	select {
	case <-r.session.Done():
	case <-r.timer.C:
		r.session.TimeOut()
	case <-r.cancel:
		return
	}
	r.release(c.opts.Logger)
}

// Reset cancels the deadline and tears down the active transport. Events the
// old transport delivers afterwards are dropped. Safe to call at any time.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil && c.cur.session.State() == StateGathering {
		c.cur.session.Log().Warnf("probe reset while gathering")
	}
	c.stopLocked(errReset)
}

func (c *Controller) stopLocked(reason error) {
	r := c.cur
	if r == nil {
		return
	}
	c.cur = nil

	r.bridge.detach()
	r.session.Fail(reason)
	close(r.cancel)
	r.release(c.opts.Logger)
}

// attach hands tr to the run. A run already released closes tr instead and
// reports false.
func (r *run) attach(tr transport.Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		_ = tr.Close()
		return false
	}
	r.transport = tr
	return true
}

func (r *run) release(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.transport != nil {
		if err := r.transport.Close(); err != nil {
			logger.Debug("probe: transport close", "session", r.session.ID(), "err", err)
		}
	}
}

// Session returns the current session, or nil after Reset.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	return c.cur.session
}

// CurrentSummary is available once the current session is terminal.
func (c *Controller) CurrentSummary() (Summary, bool) {
	sess := c.Session()
	if sess == nil {
		return Summary{}, false
	}
	sum, err := BuildSummary(sess.Snapshot())
	if err != nil {
		return Summary{}, false
	}
	return sum, true
}

// Wait blocks until the current session is terminal or ctx ends.
func (c *Controller) Wait(ctx context.Context) (Summary, error) {
	sess := c.Session()
	if sess == nil {
		return Summary{}, ErrNotTerminal
	}
	select {
	case <-sess.Done():
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
	return BuildSummary(sess.Snapshot())
}

// bridge forwards transport events to one session until detached.
type bridge struct {
	mu       sync.RWMutex
	session  *Session
	detached bool
}

func (b *bridge) Candidate(raw string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.detached {
		return
	}
	b.session.OnCandidate(raw)
}

func (b *bridge) GatheringState(s transport.GatheringState) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.detached {
		return
	}
	b.session.OnStateChange(s)
}

func (b *bridge) detach() {
	b.mu.Lock()
	b.detached = true
	b.mu.Unlock()
}
