package feature

import (
	"context"

	"go.uber.org/zap"

	"github.com/octoreflex/triaged/internal/observability"
)

// Handler processes one snapshot. It is always called from the same
// worker shard for a given PID, so implementations may keep per-PID state
// without synchronization — the per-PID single-writer invariant spec.md §5
// requires.
type Handler func(ctx context.Context, s Snapshot)

// Pipeline fans snapshots out to MaxGoroutines worker shards, one
// single-threaded worker per shard, bounded by EventQueueSize per shard.
// A PID is routed to the same shard on every tick (hashed by PID), so its
// snapshots are always processed in arrival order by the same goroutine.
//
// Same channel+worker-pool shape as the teacher's internal/kernel ring
// buffer consumer: events (here, snapshots) that arrive faster than a
// shard can drain are dropped and counted, never blocked on.
type Pipeline struct {
	handler Handler
	metrics *observability.Metrics
	log     *zap.Logger
	shards  []chan Snapshot
}

// NewPipeline creates a Pipeline with maxGoroutines shards, each buffered
// to eventQueueSize. Panics if maxGoroutines or eventQueueSize is <= 0 —
// these come from validated config (internal/config), never from
// untrusted input.
func NewPipeline(maxGoroutines, eventQueueSize int, handler Handler, metrics *observability.Metrics, log *zap.Logger) *Pipeline {
	if maxGoroutines <= 0 {
		panic("feature: maxGoroutines must be > 0")
	}
	if eventQueueSize <= 0 {
		panic("feature: eventQueueSize must be > 0")
	}
	shards := make([]chan Snapshot, maxGoroutines)
	for i := range shards {
		shards[i] = make(chan Snapshot, eventQueueSize)
	}
	return &Pipeline{handler: handler, metrics: metrics, log: log, shards: shards}
}

// shardFor returns the shard index a given PID is always routed to.
func (p *Pipeline) shardFor(pid int) int {
	if pid < 0 {
		pid = -pid
	}
	return pid % len(p.shards)
}

// Start spawns one goroutine per shard, each draining its channel and
// calling handler until ctx is canceled.
func (p *Pipeline) Start(ctx context.Context) {
	for i := range p.shards {
		shard := p.shards[i]
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case s := <-shard:
					p.handler(ctx, s)
				}
			}
		}()
	}
}

// Dispatch routes s to its PID's shard. If the shard's queue is full, the
// snapshot is dropped and observability.Metrics.ObservationsDroppedTotal is
// incremented with reason "queue_full" — backpressure never blocks the
// ingestion loop.
func (p *Pipeline) Dispatch(s Snapshot) {
	shard := p.shards[p.shardFor(s.PID)]
	select {
	case shard <- s:
		if p.metrics != nil {
			p.metrics.ObservationsProcessedTotal.Inc()
		}
	default:
		if p.metrics != nil {
			p.metrics.ObservationsDroppedTotal.WithLabelValues("queue_full").Inc()
		}
		if p.log != nil {
			p.log.Debug("observation queue full, dropping snapshot",
				zap.Int("pid", s.PID))
		}
	}
}

// QueueDepth returns the total buffered snapshot count across all shards,
// for the ingest.observation_queue_depth gauge.
func (p *Pipeline) QueueDepth() int {
	depth := 0
	for _, shard := range p.shards {
		depth += len(shard)
	}
	return depth
}

// Run starts the pipeline's workers and pulls snapshots from source until
// ctx is canceled or source.Next returns a non-nil error. Malformed or
// transient read failures are the source's concern to retry internally;
// Run treats any error from Next as fatal to the ingestion loop.
func (p *Pipeline) Run(ctx context.Context, source Source) error {
	p.Start(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		snap, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.Dispatch(snap)
		if p.metrics != nil {
			p.metrics.ObservationQueueDepth.Set(float64(p.QueueDepth()))
		}
	}
}
