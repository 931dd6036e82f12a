// Package dispatcher implements GroupDispatcher: hash-routing of inbound
// messages to a fixed pool of worker queues so that all traffic for one
// group is processed strictly in arrival order, bounded by a global
// in-flight cap. Grounded on the teacher's Kafka worker-pool pattern
// (bounded job channel per worker, retry with backoff, commit-after-handle)
// adapted here to in-process channels instead of a Kafka reader.
package dispatcher

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"memoryservice/internal/model"
	"memoryservice/internal/observability"
)

// Processor handles one inbound message to completion. Implemented by
// MemorizePipeline; kept as an interface here so dispatcher has no
// compile-time dependency on the pipeline package.
type Processor interface {
	Process(ctx context.Context, msg model.RawMessage) error
}

// ShutdownMode selects how Stop drains outstanding work.
type ShutdownMode string

const (
	ShutdownSoft ShutdownMode = "soft"
	ShutdownHard ShutdownMode = "hard"
)

// Options configures a GroupDispatcher.
type Options struct {
	NumQueues     int
	QueueCapacity int
	MaxInFlight   int
	RetryAttempts int
	ShutdownMode  ShutdownMode
	MaxDelay      time.Duration
}

// counterBucketResolution is the granularity of the delivered/consumed
// rolling windows; Snapshot only ever queries 1-minute and 5-minute windows.
const counterBucketResolution = time.Minute

// rollingBucketRetention bounds how long a counterBucket is kept before
// eviction; no rolling window wider than this is ever queried.
const rollingBucketRetention = 5 * time.Minute

var timeNow = time.Now

// counterBucket holds delivered/consumed counts for one minute of wall time.
type counterBucket struct {
	delivered int64
	consumed  int64
}

// queueCounters holds the observability counters for one worker queue:
// cumulative rejected count and depth high-water mark, plus minute-bucketed
// delivered/consumed counts used to compute rolling 1-minute and 5-minute
// windows.
type queueCounters struct {
	rejected atomic.Int64
	maxDepth atomic.Int64

	mu      sync.Mutex
	buckets map[int64]*counterBucket
}

func newQueueCounters() *queueCounters {
	return &queueCounters{buckets: make(map[int64]*counterBucket)}
}

func bucketKey(ts time.Time) int64 {
	return ts.Truncate(counterBucketResolution).Unix()
}

func (c *queueCounters) recordDelivered(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bucketLocked(ts).delivered++
	c.evictLocked(ts)
}

func (c *queueCounters) recordConsumed(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bucketLocked(ts).consumed++
	c.evictLocked(ts)
}

func (c *queueCounters) bucketLocked(ts time.Time) *counterBucket {
	key := bucketKey(ts)
	b := c.buckets[key]
	if b == nil {
		b = &counterBucket{}
		c.buckets[key] = b
	}
	return b
}

func (c *queueCounters) evictLocked(ts time.Time) {
	cutoff := bucketKey(ts.Add(-rollingBucketRetention))
	for key := range c.buckets {
		if key < cutoff {
			delete(c.buckets, key)
		}
	}
}

// windowTotals sums delivered/consumed counts for buckets within window of
// now.
func (c *queueCounters) windowTotals(now time.Time, window time.Duration) (delivered, consumed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := bucketKey(now.Add(-window))
	for key, b := range c.buckets {
		if key < cutoff {
			continue
		}
		delivered += b.delivered
		consumed += b.consumed
	}
	return delivered, consumed
}

// Snapshot is a point-in-time read of one queue's counters: rolling
// 1-minute and 5-minute delivered/consumed totals, current depth,
// maximum depth seen, and cumulative reject count.
type Snapshot struct {
	Delivered1m int64
	Consumed1m  int64
	Delivered5m int64
	Consumed5m  int64
	Rejected    int64
	Depth       int
	MaxDepth    int64
}

// Dispatcher routes messages by a stable hash of their routing key to one
// of NumQueues worker loops, each backed by a bounded channel.
type Dispatcher struct {
	opts      Options
	processor Processor

	queues   []chan model.RawMessage
	counters []*queueCounters

	inFlight atomic.Int64
	maxTotal int64

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	draining atomic.Bool
}

// New builds a Dispatcher and starts its worker loops. Call Stop to shut
// it down.
func New(ctx context.Context, opts Options, processor Processor) *Dispatcher {
	if opts.NumQueues <= 0 {
		opts.NumQueues = 10
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 64
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 200
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.ShutdownMode == "" {
		opts.ShutdownMode = ShutdownSoft
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}

	runCtx, cancel := context.WithCancel(ctx)
	d := &Dispatcher{
		opts:      opts,
		processor: processor,
		queues:    make([]chan model.RawMessage, opts.NumQueues),
		counters:  make([]*queueCounters, opts.NumQueues),
		maxTotal:  int64(opts.MaxInFlight),
		cancel:    cancel,
	}
	for i := 0; i < opts.NumQueues; i++ {
		d.queues[i] = make(chan model.RawMessage, opts.QueueCapacity)
		d.counters[i] = newQueueCounters()
	}
	for i := 0; i < opts.NumQueues; i++ {
		d.wg.Add(1)
		go d.workerLoop(runCtx, i)
	}
	return d
}

func routeIndex(key string, numQueues int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(numQueues))
}

// Deliver routes msg by RoutingKey() to its worker queue. Returns true
// when accepted, false when the global in-flight cap was reached, the
// dispatcher is draining, or the target worker queue is full.
func (d *Dispatcher) Deliver(msg model.RawMessage) bool {
	if d.draining.Load() {
		return false
	}
	if d.inFlight.Load() >= d.maxTotal {
		idx := routeIndex(msg.RoutingKey(), d.opts.NumQueues)
		d.counters[idx].rejected.Add(1)
		return false
	}

	idx := routeIndex(msg.RoutingKey(), d.opts.NumQueues)
	select {
	case d.queues[idx] <- msg:
		d.inFlight.Add(1)
		d.counters[idx].recordDelivered(timeNow())
		if depth := int64(len(d.queues[idx])); depth > d.counters[idx].maxDepth.Load() {
			d.counters[idx].maxDepth.Store(depth)
		}
		return true
	default:
		d.counters[idx].rejected.Add(1)
		return false
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, idx int) {
	defer d.wg.Done()
	queue := d.queues[idx]
	for {
		select {
		case msg, ok := <-queue:
			if !ok {
				return
			}
			d.handleWithRetry(ctx, msg)
			d.counters[idx].recordConsumed(timeNow())
			d.inFlight.Add(-1)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) handleWithRetry(ctx context.Context, msg model.RawMessage) {
	var lastErr error
	for attempt := 1; attempt <= d.opts.RetryAttempts; attempt++ {
		if err := d.processor.Process(ctx, msg); err != nil {
			lastErr = err
			if attempt < d.opts.RetryAttempts && ctx.Err() == nil {
				backoff := time.Duration(200*(1<<uint(attempt-1))) * time.Millisecond
				timer := time.NewTimer(backoff)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return
				}
				continue
			}
			observability.LoggerWithTrace(ctx).Error().Err(lastErr).
				Str("message_id", msg.MessageID).
				Str("routing_key", msg.RoutingKey()).
				Int("attempts", attempt).
				Msg("dispatcher_process_failed")
			return
		}
		return
	}
}

// Snapshot reports rolling 1-minute/5-minute delivered and consumed counts
// plus current depth, max depth seen, and reject count for every worker
// queue, ordered by queue index.
func (d *Dispatcher) Snapshot() []Snapshot {
	now := timeNow()
	out := make([]Snapshot, len(d.queues))
	for i := range d.queues {
		d1, c1 := d.counters[i].windowTotals(now, time.Minute)
		d5, c5 := d.counters[i].windowTotals(now, 5*time.Minute)
		out[i] = Snapshot{
			Delivered1m: d1,
			Consumed1m:  c1,
			Delivered5m: d5,
			Consumed5m:  c5,
			Rejected:    d.counters[i].rejected.Load(),
			Depth:       len(d.queues[i]),
			MaxDepth:    d.counters[i].maxDepth.Load(),
		}
	}
	return out
}

// Stop shuts the dispatcher down per the configured mode. Soft mode
// refuses new Deliver calls and waits for queues to drain (up to
// opts.MaxDelay); hard mode cancels worker loops immediately, losing any
// in-flight messages.
func (d *Dispatcher) Stop() {
	d.draining.Store(true)

	if d.opts.ShutdownMode == ShutdownHard {
		d.cancel()
		d.wg.Wait()
		return
	}

	deadline := time.Now().Add(d.opts.MaxDelay)
	for d.inFlight.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	d.cancel()
	d.wg.Wait()
}
