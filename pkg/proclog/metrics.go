package proclog

import "sync/atomic"

// Metrics is a point-in-time snapshot of logger counters.
type Metrics struct {
	Queued      uint64 // events accepted onto the queue
	Sent        uint64 // events acknowledged by the server
	Retried     uint64 // batch retry attempts scheduled
	Failed      uint64 // events lost (dropped or terminally rejected)
	Spilled     uint64 // events written to the spill sink
	QueueDepth  int    // events currently queued
	CircuitOpen bool   // breaker currently rejecting sends
}

// counters holds the logger's atomic counters.
type counters struct {
	queued  atomic.Uint64
	sent    atomic.Uint64
	retried atomic.Uint64
	failed  atomic.Uint64
	spilled atomic.Uint64
}

func (c *counters) snapshot(queueDepth int, circuitOpen bool) Metrics {
	return Metrics{
		Queued:      c.queued.Load(),
		Sent:        c.sent.Load(),
		Retried:     c.retried.Load(),
		Failed:      c.failed.Load(),
		Spilled:     c.spilled.Load(),
		QueueDepth:  queueDepth,
		CircuitOpen: circuitOpen,
	}
}
