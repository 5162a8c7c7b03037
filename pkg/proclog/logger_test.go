package proclog

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender records delivery attempts and answers them via respond.
type fakeSender struct {
	mu      sync.Mutex
	calls   [][]Event
	respond func(call int, events []Event) (*BatchResponse, error)
	block   chan struct{} // when set, Send blocks until closed
}

func (f *fakeSender) Send(_ context.Context, _ string, events []Event) (*BatchResponse, error) {
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	f.calls = append(f.calls, events)
	call := len(f.calls)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(call, events)
	}

	ids := make([]string, len(events))

	return &BatchResponse{ExecutionIDs: ids, TotalInserted: len(events)}, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func (f *fakeSender) eventsDelivered() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, call := range f.calls {
		total += len(call)
	}

	return total
}

// memorySink collects spilled events in memory.
type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *memorySink) Spill(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, e)

	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.events)
}

// lossRecorder captures loss callback invocations.
type lossRecorder struct {
	mu      sync.Mutex
	reasons []LossReason
}

func (r *lossRecorder) callback(_ Event, reason LossReason) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reasons = append(r.reasons, reason)
}

func (r *lossRecorder) count(reason LossReason) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for _, got := range r.reasons {
		if got == reason {
			n++
		}
	}

	return n
}

func fastLoggerConfig() *Config {
	cfg := NewConfig("http://localhost:0")
	cfg.QueueCapacity = 100
	cfg.BatchSize = 10
	cfg.MaxBatchWait = 5 * time.Millisecond
	cfg.MaxRetries = 3
	cfg.BaseRetryDelay = 2 * time.Millisecond
	cfg.MaxRetryDelay = 10 * time.Millisecond
	cfg.BreakerThreshold = 100 // effectively disabled unless a test lowers it
	cfg.BreakerReset = 50 * time.Millisecond
	cfg.ShutdownTimeout = time.Second

	return cfg
}

func startLogger(t *testing.T, cfg *Config, sender batchSender, opts ...LoggerOption) *Logger {
	t.Helper()

	logger, err := newLogger(cfg, sender, opts...)
	require.NoError(t, err)
	t.Cleanup(logger.Shutdown)

	return logger
}

func TestLogger_DeliversEvents(t *testing.T) {
	sender := &fakeSender{}
	logger := startLogger(t, fastLoggerConfig(), sender)

	for i := 0; i < 3; i++ {
		require.True(t, logger.Log(sampleEvent()))
	}

	require.Eventually(t, func() bool {
		return sender.eventsDelivered() == 3
	}, time.Second, 5*time.Millisecond)

	assert.True(t, logger.Flush(time.Second))

	metrics := logger.Metrics()
	assert.Equal(t, uint64(3), metrics.Queued)
	assert.Equal(t, uint64(3), metrics.Sent)
	assert.Zero(t, metrics.Failed)
	assert.Zero(t, metrics.Spilled)
}

func TestLogger_FlushCountsCollectingEvents(t *testing.T) {
	cfg := fastLoggerConfig()
	cfg.BatchSize = 2
	cfg.MaxBatchWait = 300 * time.Millisecond

	sender := &fakeSender{}
	logger := startLogger(t, cfg, sender)

	require.True(t, logger.Log(sampleEvent()))

	// The worker has dequeued the event and is waiting for a batch mate. An
	// event being collected is still undelivered, so a short flush must not
	// report completion.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, logger.Flush(50*time.Millisecond))

	require.True(t, logger.Flush(time.Second))
	assert.Equal(t, uint64(1), logger.Metrics().Sent)
}

func TestLogger_LogAfterShutdownReturnsFalse(t *testing.T) {
	sender := &fakeSender{}
	losses := &lossRecorder{}
	logger := startLogger(t, fastLoggerConfig(), sender, WithLossCallback(losses.callback))

	logger.Shutdown()

	assert.False(t, logger.Log(sampleEvent()))
	assert.Equal(t, 1, losses.count(LossPostShutdown))
}

func TestLogger_ShutdownIsIdempotent(t *testing.T) {
	sender := &fakeSender{}
	logger := startLogger(t, fastLoggerConfig(), sender)

	logger.Shutdown()
	logger.Shutdown()
}

func TestLogger_QueueFullDropsWithoutSink(t *testing.T) {
	cfg := fastLoggerConfig()
	cfg.QueueCapacity = 2
	cfg.BatchSize = 1

	blocked := make(chan struct{})
	sender := &fakeSender{block: blocked}
	losses := &lossRecorder{}
	logger := startLogger(t, cfg, sender, WithLossCallback(losses.callback))

	defer close(blocked)

	// Fill the queue while the single worker is stuck in Send.
	dropped := false

	for i := 0; i < 10; i++ {
		if !logger.Log(sampleEvent()) {
			dropped = true

			break
		}
	}

	require.True(t, dropped)
	assert.Positive(t, losses.count(LossQueueFull))
	assert.Positive(t, logger.Metrics().Failed)
}

func TestLogger_QueueFullSpillsWithSink(t *testing.T) {
	cfg := fastLoggerConfig()
	cfg.QueueCapacity = 2
	cfg.BatchSize = 1

	blocked := make(chan struct{})
	sender := &fakeSender{block: blocked}
	sink := &memorySink{}
	losses := &lossRecorder{}
	logger := startLogger(t, cfg, sender,
		WithSpillSink(sink), WithLossCallback(losses.callback))

	defer close(blocked)

	for i := 0; i < 10; i++ {
		// With a sink configured every call is accepted: queued or spilled.
		require.True(t, logger.Log(sampleEvent()))
	}

	require.Eventually(t, func() bool {
		return sink.count() > 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, sink.count(), losses.count(LossQueueFull))
	assert.Equal(t, uint64(sink.count()), logger.Metrics().Spilled)
	assert.Zero(t, logger.Metrics().Failed)
}

func TestLogger_RetriesTransientFailures(t *testing.T) {
	sender := &fakeSender{
		respond: func(call int, events []Event) (*BatchResponse, error) {
			if call == 1 {
				return nil, &APIError{StatusCode: http.StatusServiceUnavailable}
			}

			return &BatchResponse{
				ExecutionIDs:  make([]string, len(events)),
				TotalInserted: len(events),
			}, nil
		},
	}
	logger := startLogger(t, fastLoggerConfig(), sender)

	require.True(t, logger.Log(sampleEvent()))

	require.Eventually(t, func() bool {
		return logger.Metrics().Sent == 1
	}, time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, sender.callCount(), 2)
	assert.Positive(t, logger.Metrics().Retried)
}

func TestLogger_TerminalResponseIsNotRetried(t *testing.T) {
	sender := &fakeSender{
		respond: func(_ int, _ []Event) (*BatchResponse, error) {
			return nil, &APIError{StatusCode: http.StatusBadRequest}
		},
	}
	sink := &memorySink{}
	losses := &lossRecorder{}
	logger := startLogger(t, fastLoggerConfig(), sender,
		WithSpillSink(sink), WithLossCallback(losses.callback))

	require.True(t, logger.Log(sampleEvent()))

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sender.callCount(), "4xx must not be retried")
	assert.Equal(t, 1, losses.count(LossRetriesExhausted))
}

func TestLogger_RetriesExhausted(t *testing.T) {
	cfg := fastLoggerConfig()
	cfg.MaxRetries = 2

	sender := &fakeSender{
		respond: func(_ int, _ []Event) (*BatchResponse, error) {
			return nil, &APIError{StatusCode: http.StatusServiceUnavailable}
		},
	}
	losses := &lossRecorder{}
	logger := startLogger(t, cfg, sender, WithLossCallback(losses.callback))

	require.True(t, logger.Log(sampleEvent()))

	require.Eventually(t, func() bool {
		return losses.count(LossRetriesExhausted) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(1), logger.Metrics().Failed)
	assert.Equal(t, cfg.MaxRetries, sender.callCount())
}

func TestLogger_PartialErrorsRequeueOnceThenSpill(t *testing.T) {
	sender := &fakeSender{
		respond: func(_ int, events []Event) (*BatchResponse, error) {
			resp := &BatchResponse{
				ExecutionIDs:  make([]string, len(events)),
				TotalInserted: len(events),
			}

			// Reject the poison row wherever it lands in the batch.
			for i, e := range events {
				if e.HTTPMethod == "FETCH" {
					resp.Errors = append(resp.Errors, BatchError{Index: i, Message: "http_method check failed"})
					resp.TotalInserted--
				}
			}

			return resp, nil
		},
	}
	sink := &memorySink{}
	losses := &lossRecorder{}
	logger := startLogger(t, fastLoggerConfig(), sender,
		WithSpillSink(sink), WithLossCallback(losses.callback))

	bad := sampleEvent()
	bad.HTTPMethod = "FETCH"
	good := sampleEvent()

	require.True(t, logger.Log(bad))
	require.True(t, logger.Log(good))

	// The poison row is requeued once, rejected again, then spilled.
	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, losses.count(LossRetriesExhausted))
	assert.GreaterOrEqual(t, sender.callCount(), 2)
}

func TestLogger_CircuitBreakerOpens(t *testing.T) {
	cfg := fastLoggerConfig()
	cfg.BreakerThreshold = 2
	cfg.MaxRetries = 100
	cfg.BreakerReset = time.Minute

	sender := &fakeSender{
		respond: func(_ int, _ []Event) (*BatchResponse, error) {
			return nil, &APIError{StatusCode: http.StatusServiceUnavailable}
		},
	}
	logger := startLogger(t, cfg, sender)

	require.True(t, logger.Log(sampleEvent()))

	require.Eventually(t, func() bool {
		return logger.Metrics().CircuitOpen
	}, time.Second, 5*time.Millisecond)

	// Open breaker blocks further HTTP attempts.
	attempts := sender.callCount()

	require.True(t, logger.Log(sampleEvent()))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, attempts, sender.callCount())
}

func TestLogger_BreakerRecoversAfterReset(t *testing.T) {
	cfg := fastLoggerConfig()
	cfg.BreakerThreshold = 2
	cfg.MaxRetries = 100
	cfg.BreakerReset = 30 * time.Millisecond

	var healthy bool

	var mu sync.Mutex

	sender := &fakeSender{}
	sender.respond = func(_ int, events []Event) (*BatchResponse, error) {
		mu.Lock()
		ok := healthy
		mu.Unlock()

		if !ok {
			return nil, &APIError{StatusCode: http.StatusServiceUnavailable}
		}

		return &BatchResponse{
			ExecutionIDs:  make([]string, len(events)),
			TotalInserted: len(events),
		}, nil
	}

	logger := startLogger(t, cfg, sender)

	for i := 0; i < 5; i++ {
		require.True(t, logger.Log(sampleEvent()))
	}

	require.Eventually(t, func() bool {
		return logger.Metrics().CircuitOpen
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	healthy = true
	mu.Unlock()

	// After the reset interval a probe succeeds and the queue drains.
	require.Eventually(t, func() bool {
		m := logger.Metrics()

		return !m.CircuitOpen && m.Sent == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLogger_ShutdownSpillsRemainder(t *testing.T) {
	cfg := fastLoggerConfig()
	cfg.BatchSize = 1
	cfg.ShutdownTimeout = 20 * time.Millisecond

	blocked := make(chan struct{})
	sender := &fakeSender{block: blocked}
	sink := &memorySink{}
	losses := &lossRecorder{}
	logger := startLogger(t, cfg, sender,
		WithSpillSink(sink), WithLossCallback(losses.callback))

	for i := 0; i < 5; i++ {
		require.True(t, logger.Log(sampleEvent()))
	}

	done := make(chan struct{})

	go func() {
		logger.Shutdown()
		close(done)
	}()

	// Unblock the worker after the flush deadline has passed so Shutdown
	// can finish; the worker's in-flight batch completes normally.
	time.Sleep(50 * time.Millisecond)
	close(blocked)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not complete")
	}

	// The worker finishes its one in-flight event and then observes quit
	// before taking more, so exactly the four queued events spill.
	assert.Equal(t, 4, sink.count(), "queued remainder must be spilled")
	assert.Equal(t, 4, losses.count(LossPostShutdown))
	assert.Equal(t, uint64(1), logger.Metrics().Sent)
}

func TestLogger_LogMany(t *testing.T) {
	sender := &fakeSender{}
	logger := startLogger(t, fastLoggerConfig(), sender)

	accepted := logger.LogMany([]Event{sampleEvent(), sampleEvent(), sampleEvent()})

	assert.Equal(t, 3, accepted)
	assert.True(t, logger.Flush(time.Second))
}
