// Package subscription keeps one realtime topic subscription alive across
// transport failures. A Controller owns the full lifecycle of the
// subscription: it opens the channel through a channel.Provider, classifies
// failure reports, retries with exponential backoff, opens a circuit under
// sustained failure, and tears everything down when the caller loses
// interest.
package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goevery/chatwatch/internal/channel"
	"github.com/goevery/chatwatch/internal/ierr"
	"go.uber.org/zap"
)

// StatusFunc receives the externally visible status stream: a human-readable
// status ("", "SUBSCRIBED", "CHANNEL_ERROR", "TIMED_OUT", "CLOSED") plus a
// connecting flag. Consecutive duplicates are filtered, and events from
// superseded attempts never reach it. It is invoked from the controller's
// event loop and must not block.
type StatusFunc func(status string, connecting bool)

type eventKind int

const (
	evSetup eventKind = iota
	evStatus
	evOpenResult
	evRetryFired
	evResetFired
)

// event is the single currency of the controller's event loop. Every async
// origin (provider callback, timer, open result) captures the attempt id that
// was current when it was scheduled; the loop discards events whose attempt
// has been superseded.
type event struct {
	kind    eventKind
	attempt uint64
	fresh   bool
	status  channel.Status
	handle  channel.Handle
	err     error
}

type Controller struct {
	logger   *zap.Logger
	provider channel.Provider
	topic    Topic
	cfg      Config
	notify   StatusFunc

	breaker *CircuitBreaker

	events  chan event
	stopc   chan struct{}
	donec   chan struct{} // closed when the event loop stops accepting events
	closedc chan struct{} // closed when teardown has fully completed

	started  atomic.Bool
	stopOnce sync.Once
	state    atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	// Everything below is owned by the event-loop goroutine.
	attemptId     uint64
	setupInFlight bool
	pendingOpens  int
	intentional   bool
	retryCount    int
	handle        channel.Handle
	retryTimer    *time.Timer
	resetTimer    *time.Timer
	lastFailureAt time.Time

	lastStatus     string
	lastConnecting bool
	notified       bool
}

// NewController wires a controller for one topic. notify may be nil when the
// caller does not care about the status stream.
func NewController(
	logger *zap.Logger,
	provider channel.Provider,
	topic Topic,
	cfg Config,
	notify StatusFunc,
) *Controller {
	cfg = cfg.withDefaults()

	return &Controller{
		logger:   logger.With(zap.String("topic", topic.String())),
		provider: provider,
		topic:    topic,
		cfg:      cfg,
		notify:   notify,
		breaker:  NewCircuitBreaker(cfg.BreakerThreshold, cfg.Cooldown),
		events:   make(chan event, 16),
		stopc:    make(chan struct{}),
		donec:    make(chan struct{}),
		closedc:  make(chan struct{}),
	}
}

// Start begins maintaining the subscription. It validates the topic
// synchronously, before any channel is opened, and may be called at most once
// per controller.
func (c *Controller) Start(ctx context.Context) error {
	if c.topic.IsZero() {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("topic is required"))
	}

	if !c.started.CompareAndSwap(false, true) {
		return ierr.New(ierr.ErrorCodeAlreadyExists, errors.New("controller already started"))
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	go c.run()

	c.post(event{kind: evSetup, fresh: true})

	return nil
}

// Stop tears the subscription down: the disconnect is marked intentional, all
// timers are cancelled and the channel handle is closed best-effort. It is
// idempotent and blocks until teardown has completed.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopc)
	})

	if c.started.Load() {
		<-c.closedc
	}
}

// State reports the current lifecycle state. It is safe to call from any
// goroutine.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(next State) {
	prev := State(c.state.Swap(int32(next)))
	if prev != next {
		c.logger.Debug("subscription state changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", next))
	}
}

// post hands an event to the loop. Once the loop has fully drained and gone
// away the event is discarded instead of blocking the sender.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.donec:
	}
}

func (c *Controller) run() {
	for {
		select {
		case ev := <-c.events:
			c.dispatch(ev)
		case <-c.stopc:
			c.teardown()
			c.reap()
			return
		case <-c.ctx.Done():
			c.teardown()
			c.reap()
			return
		}
	}
}

func (c *Controller) dispatch(ev event) {
	if ev.kind == evOpenResult {
		c.pendingOpens--
	}

	if c.State() == StateTornDown {
		if ev.handle != nil {
			// Nobody owns this handle anymore.
			if err := c.provider.Close(ev.handle); err != nil {
				c.logger.Warn("failed to close channel", zap.Error(err))
			}
		}
		return
	}

	switch ev.kind {
	case evSetup:
		c.beginSetup(ev.fresh)
	case evStatus:
		c.handleStatus(ev)
	case evOpenResult:
		c.handleOpenResult(ev)
	case evRetryFired:
		c.handleRetryFired(ev)
	case evResetFired:
		c.handleResetFired(ev)
	}
}

// beginSetup starts one setup attempt. The in-flight guard admits at most one
// attempt at a time: a second request is dropped, not queued. A fresh
// (non-retry) setup mints a new attempt id and resets the retry counter.
func (c *Controller) beginSetup(fresh bool) {
	if c.setupInFlight {
		c.logger.Debug("setup already in flight, dropping request")
		return
	}

	if c.State() == StateSubscribed {
		c.logger.Debug("already subscribed, dropping setup request")
		return
	}

	if fresh {
		now := time.Now()
		if !c.breaker.Allow(now) {
			c.logger.Warn("circuit open, refusing setup",
				zap.Int("consecutiveFailures", c.breaker.Failures()))

			c.setState(StateCircuitOpen)
			c.scheduleReset(c.breaker.Remaining(now))
			return
		}

		c.attemptId++
		c.retryCount = 0
	}

	c.closeHandle()

	c.setupInFlight = true
	c.setState(StateSettingUp)
	c.forward("", true)

	attempt := c.attemptId
	c.logger.Debug("opening channel", zap.Uint64("attempt", attempt))

	c.pendingOpens++
	go c.openChannel(attempt)
}

// openChannel runs outside the event loop; it is the only truly asynchronous
// operation besides timers. Its result is always delivered: the loop keeps
// consuming events until every pending open has reported back, even after
// teardown, so a late handle can never be stranded in the queue.
func (c *Controller) openChannel(attempt uint64) {
	handle, err := c.provider.Open(c.ctx, c.topic.String(), func(status channel.Status) {
		c.post(event{kind: evStatus, attempt: attempt, status: status})
	})

	if err != nil {
		c.post(event{kind: evOpenResult, attempt: attempt, err: err})
		return
	}

	c.post(event{kind: evOpenResult, attempt: attempt, handle: handle})
}

func (c *Controller) handleOpenResult(ev event) {
	if ev.attempt != c.attemptId {
		c.logger.Debug("open result for superseded attempt",
			zap.Uint64("attempt", ev.attempt),
			zap.Uint64("current", c.attemptId))

		if ev.handle != nil {
			if err := c.provider.Close(ev.handle); err != nil {
				c.logger.Warn("failed to close superseded channel", zap.Error(err))
			}
		}
		return
	}

	if ev.err != nil {
		c.logger.Warn("channel open failed", zap.Error(ev.err))
		c.handleFailure(channel.StatusChannelError)
		return
	}

	c.handle = ev.handle
}

func (c *Controller) handleStatus(ev event) {
	if ev.attempt != c.attemptId {
		c.logger.Debug("status for superseded attempt",
			zap.String("status", string(ev.status)),
			zap.Uint64("attempt", ev.attempt),
			zap.Uint64("current", c.attemptId))
		return
	}

	switch ev.status {
	case channel.StatusSubscribed:
		c.handleSubscribed()
	case channel.StatusChannelError, channel.StatusTimedOut, channel.StatusClosed:
		c.handleFailure(ev.status)
	default:
		c.logger.Warn("unknown channel status", zap.String("status", string(ev.status)))
	}
}

func (c *Controller) handleSubscribed() {
	c.logger.Info("subscribed", zap.Uint64("attempt", c.attemptId))

	c.setupInFlight = false
	c.retryCount = 0
	c.lastFailureAt = time.Time{}
	c.breaker.RecordSuccess()
	c.clearTimers()
	c.setState(StateSubscribed)
	c.forward(string(channel.StatusSubscribed), false)
}

// handleFailure classifies a retryable transport failure. Failures within the
// dedup window of the previous one report the same underlying fault and are
// coalesced into the retry decision already taken. A failure of the attempt
// currently in flight is never a duplicate, no matter how soon it arrives.
func (c *Controller) handleFailure(status channel.Status) {
	if c.intentional {
		c.logger.Debug("disconnect was intentional, ignoring failure",
			zap.String("status", string(status)))
		return
	}

	now := time.Now()

	if !c.setupInFlight && !c.lastFailureAt.IsZero() && now.Sub(c.lastFailureAt) < c.cfg.DedupWindow {
		c.logger.Debug("coalescing duplicate failure",
			zap.String("status", string(status)))
		return
	}
	c.lastFailureAt = now

	c.logger.Warn("subscription failed",
		zap.String("status", string(status)),
		zap.Uint64("attempt", c.attemptId),
		zap.Int("retryCount", c.retryCount))

	c.setupInFlight = false
	c.closeHandle()
	c.forward(string(status), true)

	allowed := c.breaker.Allow(now)
	c.breaker.RecordFailure(now)

	if c.retryCount >= c.cfg.MaxRetries || !allowed {
		c.tripCircuit()
		return
	}

	delay := c.cfg.Backoff.Delay(c.retryCount)
	c.retryCount++
	c.setState(StateRetrying)

	c.logger.Debug("scheduling retry",
		zap.Int("retryCount", c.retryCount),
		zap.Duration("delay", delay))

	attempt := c.attemptId
	c.stopTimer(&c.retryTimer)
	c.retryTimer = time.AfterFunc(delay, func() {
		c.post(event{kind: evRetryFired, attempt: attempt})
	})
}

// tripCircuit stops the backoff sequence and schedules a single force-reset.
// The reset waits the full cooldown once the consecutive-failure count has
// crossed the breaker threshold, otherwise the short default delay.
func (c *Controller) tripCircuit() {
	c.setState(StateCircuitOpen)

	delay := c.cfg.ResetDelay
	if c.breaker.Failures() >= c.cfg.BreakerThreshold {
		delay = c.cfg.Cooldown
	}

	c.logger.Warn("retries exhausted, circuit open",
		zap.Int("consecutiveFailures", c.breaker.Failures()),
		zap.Duration("resetDelay", delay))

	c.scheduleReset(delay)
}

func (c *Controller) scheduleReset(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	attempt := c.attemptId
	c.stopTimer(&c.resetTimer)
	c.resetTimer = time.AfterFunc(delay, func() {
		c.post(event{kind: evResetFired, attempt: attempt})
	})
}

func (c *Controller) handleRetryFired(ev event) {
	if ev.attempt != c.attemptId || c.State() != StateRetrying {
		c.logger.Debug("stale retry timer", zap.Uint64("attempt", ev.attempt))
		return
	}

	c.beginSetup(false)
}

// handleResetFired performs the full reset after a circuit-open period:
// lingering state is dropped and the next setup starts over with a new
// attempt id and a zeroed retry counter.
func (c *Controller) handleResetFired(ev event) {
	if ev.attempt != c.attemptId || c.State() != StateCircuitOpen {
		c.logger.Debug("stale reset timer", zap.Uint64("attempt", ev.attempt))
		return
	}

	c.logger.Info("force reset, starting over")

	c.closeHandle()
	c.retryCount = 0
	c.lastFailureAt = time.Time{}

	c.beginSetup(true)
}

func (c *Controller) teardown() {
	c.intentional = true
	c.setState(StateTornDown)
	c.clearTimers()
	c.cancel()

	c.closeHandle()
	c.setupInFlight = false

	c.logger.Info("subscription torn down")

	close(c.closedc)
}

// reap drains the loop after teardown until every in-flight open has reported
// back and its handle has been released. Only then do posted events start
// being dropped.
func (c *Controller) reap() {
	for c.pendingOpens > 0 {
		c.dispatch(<-c.events)
	}

	close(c.donec)
}

func (c *Controller) closeHandle() {
	if c.handle == nil {
		return
	}

	if err := c.provider.Close(c.handle); err != nil {
		c.logger.Warn("failed to close channel", zap.Error(err))
	}

	c.handle = nil
}

func (c *Controller) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Controller) clearTimers() {
	c.stopTimer(&c.retryTimer)
	c.stopTimer(&c.resetTimer)
}

// forward pushes a status to the notifier, dropping consecutive duplicates.
func (c *Controller) forward(status string, connecting bool) {
	if c.notify == nil {
		return
	}

	if c.notified && c.lastStatus == status && c.lastConnecting == connecting {
		return
	}

	c.notified = true
	c.lastStatus = status
	c.lastConnecting = connecting

	c.notify(status, connecting)
}
