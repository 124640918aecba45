package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by ScanNow once the coordinator has stopped.
var ErrStopped = errors.New("inject: coordinator stopped")

// State is the debounce state of a Coordinator.
type State int32

const (
	Idle State = iota
	ScanPending
)

func (s State) String() string {
	if s == ScanPending {
		return "scan_pending"
	}
	return "idle"
}

// Stats are point-in-time counters of a Coordinator.
type Stats struct {
	Integration string    `json:"integration"`
	State       string    `json:"state"`
	Mutations   int64     `json:"mutations"`
	Scans       int64     `json:"scans"`
	Mounted     int64     `json:"mounted"`
	Failed      int64     `json:"failed"`
	Errors      int64     `json:"errors"`
	LastScan    time.Time `json:"last_scan,omitzero"`
	LastResult  Result    `json:"last_result"`
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Document    Document
	Integration Integration
	Renderer    Renderer
	// OnScan is called after every scan, outside any document lock.
	OnScan func(Result)
	Logger *slog.Logger
}

// Coordinator keeps one integration in sync with one document. It scans once
// when the document is ready, then once per mutation burst: the first
// mutation arms a trailing timer and later ones are absorbed until it fires.
//
// Every scan runs on the coordinator's own goroutine, so mount checks of one
// integration never interleave. If the Document implements sync.Locker it is
// held for the duration of each scan.
type Coordinator struct {
	name    string
	doc     Document
	scanner *Scanner
	delay   time.Duration
	marker  string
	onScan  func(Result)
	logger  *slog.Logger

	notifyCh chan struct{}
	readyCh  chan struct{}
	scanReq  chan chan scanReply

	lifeMu  sync.Mutex
	running bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	stopObs func()
	done    chan struct{}

	state     atomic.Int32
	mutations atomic.Int64
	scans     atomic.Int64
	mounted   atomic.Int64
	failed    atomic.Int64
	errs      atomic.Int64

	lastMu sync.Mutex
	last   Result
	lastAt time.Time
}

type scanReply struct {
	res Result
	err error
}

// NewCoordinator validates the integration and builds a stopped Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Document == nil {
		return nil, fmt.Errorf("inject: coordinator: nil document")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	in := cfg.Integration
	scanner, err := NewScanner(cfg.Document, in, cfg.Renderer, cfg.Logger)
	if err != nil {
		return nil, err
	}
	in.defaults()

	return &Coordinator{
		name:     in.Name,
		doc:      cfg.Document,
		scanner:  scanner,
		delay:    in.Debounce,
		marker:   in.Marker,
		onScan:   cfg.OnScan,
		logger:   cfg.Logger.With("integration", in.Name),
		notifyCh: make(chan struct{}, 1),
		readyCh:  make(chan struct{}, 1),
		scanReq:  make(chan chan scanReply),
		done:     make(chan struct{}),
	}, nil
}

// Name returns the integration name.
func (c *Coordinator) Name() string { return c.name }

// State returns the current debounce state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Start subscribes to mutations, performs the initial scan (now, or when the
// document becomes ready) and starts the loop. A mutation racing the initial
// scan queues one more scan.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.running || c.stopped {
		return fmt.Errorf("inject: coordinator %s: already started", c.name)
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	stop, err := c.doc.Observe(c.ctx, ObserveOptions{IgnoreClasses: []string{c.marker}}, c.notify)
	if err != nil {
		c.cancel()
		return fmt.Errorf("inject: coordinator %s: observe: %w", c.name, err)
	}
	fail := func(step string, err error) error {
		stop()
		c.cancel()
		return fmt.Errorf("inject: coordinator %s: %s: %w", c.name, step, err)
	}

	ready, err := c.doc.Ready(c.ctx)
	if err != nil {
		return fail("readiness", err)
	}
	if ready {
		c.scan()
	} else if err := c.doc.OnReady(c.ctx, c.signalReady); err != nil {
		return fail("wait ready", err)
	}

	c.stopObs = stop
	c.running = true

	go c.loop()

	c.logger.Info("inject: coordinator started", "ready", ready, "debounce", c.delay)
	return nil
}

// Stop detaches the observer, drops a pending timer and waits for the loop.
// It is safe to call more than once.
func (c *Coordinator) Stop() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if !c.running {
		c.stopped = true
		return
	}
	c.running = false
	c.stopped = true

	if c.stopObs != nil {
		c.stopObs()
	}
	c.cancel()
	<-c.done
	c.logger.Info("inject: coordinator stopped", "scans", c.scans.Load())
}

// ScanNow runs one scan on the loop goroutine and returns its result. A
// pending debounce timer is left armed.
func (c *Coordinator) ScanNow(ctx context.Context) (Result, error) {
	c.lifeMu.Lock()
	running := c.running
	c.lifeMu.Unlock()
	if !running {
		return Result{}, ErrStopped
	}

	reply := make(chan scanReply, 1)
	select {
	case c.scanReq <- reply:
	case <-c.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	c.lastMu.Lock()
	last, lastAt := c.last, c.lastAt
	c.lastMu.Unlock()
	return Stats{
		Integration: c.name,
		State:       c.State().String(),
		Mutations:   c.mutations.Load(),
		Scans:       c.scans.Load(),
		Mounted:     c.mounted.Load(),
		Failed:      c.failed.Load(),
		Errors:      c.errs.Load(),
		LastScan:    lastAt,
		LastResult:  last,
	}
}

// notify is the mutation callback. It may run on any goroutine; a full
// channel means a wake-up is already queued.
func (c *Coordinator) notify() {
	c.mutations.Add(1)
	select {
	case c.notifyCh <- struct{}{}:
	default:
	}
}

func (c *Coordinator) signalReady() {
	select {
	case c.readyCh <- struct{}{}:
	default:
	}
}

func (c *Coordinator) loop() {
	defer close(c.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-c.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			c.state.Store(int32(Idle))
			return

		case <-c.readyCh:
			c.scan()

		case <-c.notifyCh:
			if timer == nil {
				timer = time.NewTimer(c.delay)
				timerC = timer.C
				c.state.Store(int32(ScanPending))
			}

		case <-timerC:
			timer, timerC = nil, nil
			c.scan()
			c.state.Store(int32(Idle))

		case reply := <-c.scanReq:
			res, err := c.scan()
			reply <- scanReply{res: res, err: err}
		}
	}
}

func (c *Coordinator) scan() (Result, error) {
	res, err := c.scanLocked()
	if err != nil {
		c.errs.Add(1)
		c.logger.Warn("inject: scan failed", "error", err)
		return res, err
	}

	c.scans.Add(1)
	c.mounted.Add(int64(res.Mounted))
	c.failed.Add(int64(res.Failed))
	c.lastMu.Lock()
	c.last, c.lastAt = res, time.Now()
	c.lastMu.Unlock()

	if c.onScan != nil {
		c.onScan(res)
	}
	return res, nil
}

func (c *Coordinator) scanLocked() (Result, error) {
	if l, ok := c.doc.(sync.Locker); ok {
		l.Lock()
		defer l.Unlock()
	}
	return c.scanner.Scan(c.ctx)
}
