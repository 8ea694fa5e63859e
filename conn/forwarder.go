package conn

import (
	"sync"
	"sync/atomic"

	"github.com/JekaMas/workerpool"

	"github.com/corenet/p2p/internal/xlog"
	"github.com/corenet/p2p/wire"
)

// DefaultForwardFraction is the portion of connected peers (excluding the
// source) that receive a forwarded message (spec.md §4.5).
const DefaultForwardFraction = 0.3

// DefaultForwardWorkers sizes the bounded worker pool executing forward jobs
// (spec.md §9 "model as a bounded work queue with a dedicated worker set").
const DefaultForwardWorkers = 8

// DefaultForwardQueue bounds the number of queued forward jobs; once full,
// the oldest queued job is dropped with a counter increment (spec.md §4.6,
// §9 "backpressure policy: drop-oldest with a counter").
const DefaultForwardQueue = 4096

type forwardJob struct {
	msg            *wire.AppTestMessage
	sourceEndpoint string
}

// Forwarder fans out de-duplicated application messages to a load-balanced
// subset of connected channels, excluding the source (spec.md §4.5). Queued
// jobs sit in a fixed-capacity ring buffer this type owns directly, so a full
// queue drops the oldest entry rather than the one just submitted; a single
// dispatcher goroutine drains the ring and hands each job to the worker pool
// for concurrent execution.
type Forwarder struct {
	pool    *workerpool.WorkerPool
	log     xlog.Logger
	rrIndex atomic.Uint64
	dropped atomic.Int64

	mu     sync.Mutex
	cond   *sync.Cond
	ring   []forwardJob
	head   int
	count  int
	closed bool

	listConnected func(excludeEndpoint string) []*Channel
}

func NewForwarder(workers int, listConnected func(excludeEndpoint string) []*Channel) *Forwarder {
	if workers == 0 {
		workers = DefaultForwardWorkers
	}
	f := &Forwarder{
		pool:          workerpool.New(workers),
		log:           xlog.New("component", "forwarder"),
		ring:          make([]forwardJob, DefaultForwardQueue),
		listConnected: listConnected,
	}
	f.cond = sync.NewCond(&f.mu)
	go f.dispatch()
	return f
}

func (f *Forwarder) Dropped() int64 { return f.dropped.Load() }

// Submit enqueues a forward job for msg, received from sourceEndpoint. If the
// ring buffer is already at DefaultForwardQueue capacity, the oldest queued
// job is evicted to make room (spec.md §4.6 drop-oldest backpressure).
func (f *Forwarder) Submit(msg *wire.AppTestMessage, sourceEndpoint string) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	if f.count == len(f.ring) {
		f.head = (f.head + 1) % len(f.ring)
		f.count--
		f.dropped.Add(1)
		f.log.Warn("forward queue full, dropping oldest job", "dropped_total", f.dropped.Load())
	}
	tail := (f.head + f.count) % len(f.ring)
	f.ring[tail] = forwardJob{msg: msg, sourceEndpoint: sourceEndpoint}
	f.count++
	f.cond.Signal()
	f.mu.Unlock()
}

// dispatch drains the ring buffer in FIFO order, handing each job to the
// worker pool so forwarding itself runs concurrently across DefaultForwardWorkers
// goroutines.
func (f *Forwarder) dispatch() {
	for {
		f.mu.Lock()
		for f.count == 0 && !f.closed {
			f.cond.Wait()
		}
		if f.count == 0 && f.closed {
			f.mu.Unlock()
			return
		}
		job := f.ring[f.head]
		f.head = (f.head + 1) % len(f.ring)
		f.count--
		f.mu.Unlock()

		f.pool.Submit(func() {
			f.forward(job.msg, job.sourceEndpoint)
		})
	}
}

func (f *Forwarder) forward(msg *wire.AppTestMessage, sourceEndpoint string) {
	targets := f.selectTargets(sourceEndpoint)
	fwd := *msg
	fwd.HopCount = msg.HopCount + 1
	body := fwd.Encode()
	for _, ch := range targets {
		if err := ch.WriteFrame(body); err != nil {
			f.log.Debug("forward write failed", "endpoint", ch.Endpoint, "err", err)
		}
	}
}

// selectTargets picks a deterministic fraction of the connected set,
// excluding the source, using an atomic round-robin index rather than
// sorting (spec.md §4.5). If the eligible set has 2 or fewer members, all of
// them are used.
func (f *Forwarder) selectTargets(sourceEndpoint string) []*Channel {
	all := f.listConnected(sourceEndpoint)
	n := len(all)
	if n <= 2 {
		return all
	}
	want := int(float64(n)*DefaultForwardFraction + 0.999999) // ceil
	if want < 1 {
		want = 1
	}
	if want > n {
		want = n
	}
	start := int(f.rrIndex.Add(uint64(want)) % uint64(n))
	out := make([]*Channel, 0, want)
	for i := 0; i < want; i++ {
		out = append(out, all[(start+i)%n])
	}
	return out
}

func (f *Forwarder) Stop() {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
	f.pool.StopWait()
}
