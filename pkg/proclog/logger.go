package proclog

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// LossReason tags why an event was dropped or diverted to the spill sink.
type LossReason string

// Loss reasons passed to the loss callback.
const (
	LossQueueFull        LossReason = "queue_full"
	LossRetriesExhausted LossReason = "retries_exhausted"
	LossPostShutdown     LossReason = "post_shutdown"
)

// LossCallback is invoked once per event that could not be delivered
// through the normal path. Spilled events also trigger it, so callers can
// track every event that left the happy path.
type LossCallback func(e Event, reason LossReason)

// batchSender is the single delivery attempt the logger drives. Client
// satisfies it; tests substitute fakes.
type batchSender interface {
	Send(ctx context.Context, batchID string, events []Event) (*BatchResponse, error)
}

type (
	// queueItem carries an event with its delivery bookkeeping.
	queueItem struct {
		event          Event
		attempts       int  // full-batch send attempts consumed
		partialRetried bool // already requeued once after a per-row error
	}

	// Logger delivers events asynchronously: Log never blocks, sender
	// workers batch-drain the queue, transient failures are retried with
	// jittered backoff, and a circuit breaker stops hammering a down
	// server. All methods are safe for concurrent use.
	Logger struct {
		config  *Config
		sender  batchSender
		breaker *gobreaker.CircuitBreaker

		sink     SpillSink
		ownsSink bool

		queue    chan queueItem
		quit     chan struct{}
		wg       sync.WaitGroup
		inFlight atomic.Int64
		retries  pendingRetries

		lossMu sync.Mutex
		lossFn LossCallback

		shutdownFlag atomic.Bool
		shutdownOnce sync.Once

		stats counters
	}

	// LoggerOption configures a Logger.
	LoggerOption func(*Logger)

	pendingRetries struct {
		mu      sync.Mutex
		entries map[uint64]*retryEntry
		nextID  uint64
	}

	retryEntry struct {
		timer *time.Timer
		items []queueItem
	}
)

// WithSpillSink supplies an external spill sink. The logger does not close
// sinks it did not create.
func WithSpillSink(sink SpillSink) LoggerOption {
	return func(l *Logger) {
		l.sink = sink
		l.ownsSink = false
	}
}

// WithLossCallback registers the loss callback at construction time.
func WithLossCallback(fn LossCallback) LoggerOption {
	return func(l *Logger) {
		l.lossFn = fn
	}
}

// NewLogger builds a Logger over an HTTP client created from cfg and starts
// its sender workers.
func NewLogger(cfg *Config, clientOpts ...ClientOption) (*Logger, error) {
	client, err := NewClient(cfg, clientOpts...)
	if err != nil {
		return nil, err
	}

	return newLogger(cfg, client)
}

// NewLoggerWithOptions is NewLogger plus logger-level options (spill sink,
// loss callback).
func NewLoggerWithOptions(cfg *Config, opts []LoggerOption, clientOpts ...ClientOption) (*Logger, error) {
	client, err := NewClient(cfg, clientOpts...)
	if err != nil {
		return nil, err
	}

	return newLogger(cfg, client, opts...)
}

func newLogger(cfg *Config, sender batchSender, opts ...LoggerOption) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := &Logger{
		config: cfg,
		sender: sender,
		queue:  make(chan queueItem, cfg.QueueCapacity),
		quit:   make(chan struct{}),
	}

	logger.retries.entries = make(map[uint64]*retryEntry)

	logger.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "proclog",
		MaxRequests: 1, // single probe while half-open
		Timeout:     cfg.BreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
	})

	for _, opt := range opts {
		opt(logger)
	}

	if logger.sink == nil && cfg.SpilloverPath != "" {
		sink, err := NewFileSpillSink(cfg.SpilloverPath)
		if err != nil {
			return nil, err
		}

		logger.sink = sink
		logger.ownsSink = true
	}

	for i := 0; i < cfg.SenderWorkers; i++ {
		logger.wg.Add(1)

		go logger.worker()
	}

	return logger, nil
}

// Log enqueues one event. It never blocks: when the queue is full the event
// is spilled (if a sink is configured) or dropped with a loss callback.
// The return value is true iff the event was queued or spilled.
func (l *Logger) Log(e Event) bool {
	if l.shutdownFlag.Load() {
		l.stats.failed.Add(1)
		l.invokeLoss(e, LossPostShutdown)

		return false
	}

	select {
	case l.queue <- queueItem{event: e}:
		l.stats.queued.Add(1)

		return true
	default:
	}

	// Queue full: divert to the sink or drop.
	if l.sink != nil {
		if err := l.sink.Spill(e); err == nil {
			l.stats.spilled.Add(1)
			l.invokeLoss(e, LossQueueFull)

			return true
		}
	}

	l.stats.failed.Add(1)
	l.invokeLoss(e, LossQueueFull)

	return false
}

// LogMany enqueues events individually and returns how many were accepted
// (queued or spilled).
func (l *Logger) LogMany(events []Event) int {
	accepted := 0

	for i := range events {
		if l.Log(events[i]) {
			accepted++
		}
	}

	return accepted
}

// Flush waits up to timeout for the queue, in-flight batches and scheduled
// retries to drain. Returns true when everything drained.
func (l *Logger) Flush(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		if len(l.queue) == 0 && l.inFlight.Load() == 0 && l.retries.pending() == 0 {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		time.Sleep(10 * time.Millisecond)
	}
}

// Shutdown stops the logger: no further Log calls are accepted, a bounded
// flush runs, and anything still undelivered is spilled. Idempotent.
func (l *Logger) Shutdown() {
	l.shutdownOnce.Do(func() {
		l.shutdownFlag.Store(true)

		l.Flush(l.config.ShutdownTimeout)

		close(l.quit)
		l.wg.Wait()

		for _, item := range l.retries.drain() {
			l.spillAtShutdown(item.event)
		}

		for {
			select {
			case item := <-l.queue:
				l.spillAtShutdown(item.event)
			default:
				if l.ownsSink && l.sink != nil {
					_ = l.sink.Close()
				}

				return
			}
		}
	})
}

// OnEventLoss registers the loss callback. Replaces any previous callback.
func (l *Logger) OnEventLoss(fn LossCallback) {
	l.lossMu.Lock()
	defer l.lossMu.Unlock()

	l.lossFn = fn
}

// Metrics returns a snapshot of the logger counters.
func (l *Logger) Metrics() Metrics {
	return l.stats.snapshot(len(l.queue), l.circuitOpen())
}

func (l *Logger) circuitOpen() bool {
	return l.breaker.State() == gobreaker.StateOpen
}

func (l *Logger) invokeLoss(e Event, reason LossReason) {
	l.lossMu.Lock()
	fn := l.lossFn
	l.lossMu.Unlock()

	if fn != nil {
		fn(e, reason)
	}
}

// worker is the sender loop: block for the first item, drain the rest up to
// the batch size within the batch wait window, send.
func (l *Logger) worker() {
	defer l.wg.Done()

	for {
		// Quit wins over a non-empty queue. Without this priority check the
		// select below picks randomly once both channels are ready, and a
		// worker could keep sending past the shutdown deadline instead of
		// leaving the remainder for Shutdown to spill.
		select {
		case <-l.quit:
			return
		default:
		}

		var first queueItem

		select {
		case <-l.quit:
			return
		case first = <-l.queue:
		}

		l.inFlight.Add(1)

		batch := l.collect(first)
		l.inFlight.Add(int64(len(batch)) - 1)

		l.sendBatch(batch)
		l.inFlight.Add(-int64(len(batch)))
	}
}

func (l *Logger) collect(first queueItem) []queueItem {
	batch := make([]queueItem, 0, l.config.BatchSize)
	batch = append(batch, first)

	timer := time.NewTimer(l.config.MaxBatchWait)
	defer timer.Stop()

	for len(batch) < l.config.BatchSize {
		select {
		case item := <-l.queue:
			batch = append(batch, item)
		case <-timer.C:
			return batch
		case <-l.quit:
			return batch
		}
	}

	return batch
}

// sendBatch delivers one batch through the breaker. In-flight accounting is
// owned by the worker loop, which starts counting at first dequeue so Flush
// sees events that are still being collected.
func (l *Logger) sendBatch(batch []queueItem) {
	events := make([]Event, len(batch))
	for i := range batch {
		events[i] = batch[i].event
	}

	result, err := l.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), l.config.HTTPTimeout)
		defer cancel()

		return l.sender.Send(ctx, "", events)
	})
	if err != nil {
		l.handleSendFailure(batch, err)

		return
	}

	resp, ok := result.(*BatchResponse)
	if !ok || resp == nil {
		l.handleSendFailure(batch, errors.New("sender returned no response"))

		return
	}

	l.handleResponse(batch, resp)
}

// handleSendFailure deals with a whole-batch failure: breaker-open batches
// are rescheduled without consuming an attempt, terminal responses spill,
// transient ones retry with backoff until attempts run out.
func (l *Logger) handleSendFailure(batch []queueItem, err error) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		l.scheduleRetry(batch, l.config.BaseRetryDelay)

		return
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Retryable() {
		for i := range batch {
			l.lose(batch[i].event, LossRetriesExhausted)
		}

		return
	}

	retry := batch[:0]

	for i := range batch {
		batch[i].attempts++

		if batch[i].attempts >= l.config.MaxRetries {
			l.lose(batch[i].event, LossRetriesExhausted)

			continue
		}

		retry = append(retry, batch[i])
	}

	if len(retry) > 0 {
		l.stats.retried.Add(1)
		l.scheduleRetry(retry, l.retryDelay(retry[0].attempts))
	}
}

// handleResponse accounts accepted rows and requeues per-row failures once.
// A row that fails a second time is spilled so poison events cannot loop.
func (l *Logger) handleResponse(batch []queueItem, resp *BatchResponse) {
	failedIdx := make(map[int]struct{}, len(resp.Errors))
	for _, rowErr := range resp.Errors {
		if rowErr.Index >= 0 && rowErr.Index < len(batch) {
			failedIdx[rowErr.Index] = struct{}{}
		}
	}

	l.stats.sent.Add(uint64(len(batch) - len(failedIdx)))

	if len(failedIdx) == 0 {
		return
	}

	var requeue []queueItem

	for i := range batch {
		if _, failed := failedIdx[i]; !failed {
			continue
		}

		if batch[i].partialRetried {
			l.lose(batch[i].event, LossRetriesExhausted)

			continue
		}

		batch[i].partialRetried = true
		requeue = append(requeue, batch[i])
	}

	if len(requeue) > 0 {
		l.stats.retried.Add(1)
		l.scheduleRetry(requeue, l.config.BaseRetryDelay)
	}
}

// retryDelay is base * 2^(attempts-1) with 0.75-1.25 jitter, capped at the
// configured maximum.
func (l *Logger) retryDelay(attempts int) time.Duration {
	backoff := float64(l.config.BaseRetryDelay) * math.Pow(2, float64(attempts-1))
	jitter := 0.75 + rand.Float64()*0.5 //nolint:gosec // jitter, not crypto

	delay := time.Duration(backoff * jitter)
	if delay > l.config.MaxRetryDelay {
		delay = l.config.MaxRetryDelay
	}

	return delay
}

// scheduleRetry re-enqueues items after delay via a one-shot timer. During
// shutdown the items are spilled instead.
func (l *Logger) scheduleRetry(items []queueItem, delay time.Duration) {
	if l.shutdownFlag.Load() {
		for i := range items {
			l.spillAtShutdown(items[i].event)
		}

		return
	}

	retained := make([]queueItem, len(items))
	copy(retained, items)

	id := l.retries.add(retained)

	timer := time.AfterFunc(delay, func() {
		taken, ok := l.retries.take(id)
		if !ok {
			return // drained by Shutdown
		}

		for i := range taken {
			if l.shutdownFlag.Load() {
				l.spillAtShutdown(taken[i].event)

				continue
			}

			select {
			case l.queue <- taken[i]:
			default:
				l.lose(taken[i].event, LossQueueFull)
			}
		}
	})

	l.retries.setTimer(id, timer)
}

// lose diverts an event to the sink when one is configured, otherwise
// counts it failed, and always fires the loss callback.
func (l *Logger) lose(e Event, reason LossReason) {
	if l.sink != nil {
		if err := l.sink.Spill(e); err == nil {
			l.stats.spilled.Add(1)
			l.invokeLoss(e, reason)

			return
		}
	}

	l.stats.failed.Add(1)
	l.invokeLoss(e, reason)
}

func (l *Logger) spillAtShutdown(e Event) {
	l.lose(e, LossPostShutdown)
}

func (r *pendingRetries) add(items []queueItem) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.entries[r.nextID] = &retryEntry{items: items}

	return r.nextID
}

func (r *pendingRetries) setTimer(id uint64, timer *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[id]; ok {
		entry.timer = timer
	}
}

func (r *pendingRetries) take(id uint64) ([]queueItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}

	delete(r.entries, id)

	return entry.items, true
}

func (r *pendingRetries) drain() []queueItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []queueItem

	for id, entry := range r.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}

		items = append(items, entry.items...)
		delete(r.entries, id)
	}

	return items
}

func (r *pendingRetries) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, entry := range r.entries {
		count += len(entry.items)
	}

	return count
}
