package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/offlinehq/eventsync/internal/models"
	"github.com/offlinehq/eventsync/internal/remote"
	"github.com/sirupsen/logrus"
)

// State is the coordinator's externally visible phase.
type State string

const (
	StateIdle       State = "idle"
	StateSyncing    State = "syncing"
	StateBackingOff State = "backing_off"
)

// ErrBackingOff rejects triggers while the bounded post-failure delay runs.
// The next connectivity event or manual request after the delay tries again.
var ErrBackingOff = errors.New("sync is backing off after a transport failure")

// Runner is one sync pass.
type Runner interface {
	Run(ctx context.Context) (*models.SyncReport, error)
}

// PendingCounter exposes the queue depth for triggering and status display.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// Result is the handle for one in-flight or finished pass. Triggering while a
// pass runs returns the same handle instead of starting a second pass.
type Result struct {
	done   chan struct{}
	report *models.SyncReport
	err    error
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

func finishedResult(report *models.SyncReport, err error) *Result {
	r := newResult()
	r.complete(report, err)
	return r
}

func (r *Result) complete(report *models.SyncReport, err error) {
	r.report = report
	r.err = err
	close(r.done)
}

// Wait blocks until the pass finishes or ctx is cancelled. Cancellation only
// abandons the wait; the pass itself always runs to completion or failure.
func (r *Result) Wait(ctx context.Context) (*models.SyncReport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.report, r.err
	}
}

// Status is a snapshot for display.
type Status struct {
	State        State              `json:"state"`
	PendingCount int                `json:"pendingCount"`
	LastSyncAt   time.Time          `json:"lastSyncAt,omitzero"`
	LastReport   *models.SyncReport `json:"lastReport,omitempty"`
	LastError    string             `json:"lastError,omitempty"`
}

// Coordinator serializes sync passes. The engine is not safe to run
// concurrently against the same mutation store, so at-most-one in-flight pass
// is the sole concurrency control in the subsystem.
type Coordinator struct {
	engine    Runner
	mutations PendingCounter
	backoff   time.Duration
	log       *logrus.Entry

	mu         sync.Mutex
	state      State
	inflight   *Result
	lastSync   time.Time
	lastReport *models.SyncReport
	lastErr    error
}

func NewCoordinator(engine Runner, mutations PendingCounter, backoff time.Duration, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		engine:    engine,
		mutations: mutations,
		backoff:   backoff,
		state:     StateIdle,
		log:       log,
	}
}

// Trigger starts a pass unless one is already running (the in-flight handle
// is returned) or the coordinator is backing off (a finished handle carrying
// ErrBackingOff is returned).
func (c *Coordinator) Trigger(ctx context.Context) *Result {
	c.mu.Lock()
	switch c.state {
	case StateSyncing:
		result := c.inflight
		c.mu.Unlock()
		return result
	case StateBackingOff:
		c.mu.Unlock()
		return finishedResult(nil, ErrBackingOff)
	}

	result := newResult()
	c.state = StateSyncing
	c.inflight = result
	c.mu.Unlock()

	// A started pass runs to completion or failure regardless of what
	// happens to the triggering request.
	go c.run(context.WithoutCancel(ctx), result)
	return result
}

func (c *Coordinator) run(ctx context.Context, result *Result) {
	report, err := c.engine.Run(ctx)

	c.mu.Lock()
	c.inflight = nil
	c.lastReport = report
	c.lastErr = err
	switch {
	case err == nil:
		c.lastSync = time.Now()
		c.state = StateIdle
	case errors.Is(err, remote.ErrTransport):
		c.state = StateBackingOff
		c.log.WithError(err).WithField("backoff", c.backoff).Warn("sync failed, backing off")
		time.AfterFunc(c.backoff, c.endBackoff)
	default:
		// Local or validation-level failure; nothing to wait out.
		c.state = StateIdle
	}
	c.mu.Unlock()

	result.complete(report, err)
}

func (c *Coordinator) endBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateBackingOff {
		c.state = StateIdle
	}
}

// State returns the current phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status reports the phase, queue depth and last outcome for display.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	count, err := c.mutations.CountPending(ctx)
	if err != nil {
		return Status{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	status := Status{
		State:        c.state,
		PendingCount: count,
		LastSyncAt:   c.lastSync,
		LastReport:   c.lastReport,
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	return status, nil
}

// Watch triggers a pass whenever connectivity flips to online and work is
// pending. It returns when ctx is cancelled.
func (c *Coordinator) Watch(ctx context.Context, events <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-events:
			if !ok {
				return
			}
			if !online {
				continue
			}
			count, err := c.mutations.CountPending(ctx)
			if err != nil {
				c.log.WithError(err).Error("failed to count pending mutations")
				continue
			}
			if count == 0 {
				continue
			}
			c.log.WithField("pending", count).Info("connectivity restored, starting sync")
			c.Trigger(ctx)
		}
	}
}
