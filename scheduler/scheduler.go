// Package scheduler implements the single background worker that drains
// plasticity updates, runs decay/tier-demotion sweeps, and triggers ANN
// compaction, all on fixed ticks. It adapts a generic worker-pool shape
// into one dedicated maintenance loop that respects the
// single-writer-per-namespace discipline. It also holds a
// golang.org/x/sync/semaphore sized for embedder concurrency (EmbedSem).
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// PlasticityUpdate is one queued coactivation/salience mutation to apply
// asynchronously: eventual consistency for graph writes triggered by
// retrieval, so the read path never blocks on them.
type PlasticityUpdate struct {
	Apply func()
}

// queueCapacity bounds the plasticity queue.
const queueCapacity = 4096

// LifecycleShard runs decay+tier-demotion over one rotating shard of users;
// Scheduler calls it with a different shard index each minute so the whole
// population cycles through roughly once every ShardCount minutes.
type LifecycleShard func(shardIndex, shardCount int)

// CompactionCheck runs ANN compaction for any user index whose tombstone
// ratio exceeds the compaction threshold.
type CompactionCheck func()

// SnapshotCheck snapshots any namespace that has crossed its event-count or
// time-since-last-snapshot threshold, resetting its WAL in the process.
type SnapshotCheck func()

// Scheduler is the single background maintenance worker.
type Scheduler struct {
	log *zap.Logger

	tick            time.Duration
	lifecycleEvery  time.Duration
	compactionEvery time.Duration
	snapshotEvery   time.Duration
	shardCount      int

	queue chan PlasticityUpdate

	lifecycle  LifecycleShard
	compaction CompactionCheck
	snapshot   SnapshotCheck

	// EmbedSem is a semaphore sized to num_cores for CPU-bound embedding
	// calls. The scheduler does not acquire it, and neither does any
	// embedding call site in this module, so embedding concurrency is not
	// bounded by it.
	EmbedSem *semaphore.Weighted

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a scheduler. lifecycle/compaction/snapshot may be nil in
// tests that only exercise the plasticity queue.
func New(log *zap.Logger, tick time.Duration, lifecycle LifecycleShard, compaction CompactionCheck, snapshot SnapshotCheck) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	cores := runtime.NumCPU()
	if cores < 1 {
		cores = 1
	}
	return &Scheduler{
		log:             log,
		tick:            tick,
		lifecycleEvery:  60 * time.Second,
		compactionEvery: 10 * time.Minute,
		snapshotEvery:   5 * time.Minute,
		shardCount:      60,
		queue:           make(chan PlasticityUpdate, queueCapacity),
		lifecycle:       lifecycle,
		compaction:      compaction,
		snapshot:        snapshot,
		EmbedSem:        semaphore.NewWeighted(int64(cores)),
		stop:            make(chan struct{}),
	}
}

// Enqueue submits a plasticity update for the next tick to drain. It never
// blocks the caller: if the queue is full the update is dropped and logged,
// since plasticity updates are idempotent and will be re-derived on the next
// retrieval or record.
func (s *Scheduler) Enqueue(u PlasticityUpdate) {
	select {
	case s.queue <- u:
	default:
		s.log.Warn("scheduler: plasticity queue full, dropping update")
	}
}

// Run drives the maintenance loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	lifecycleTicker := time.NewTicker(s.lifecycleEvery)
	defer lifecycleTicker.Stop()

	compactionTicker := time.NewTicker(s.compactionEvery)
	defer compactionTicker.Stop()

	snapshotTicker := time.NewTicker(s.snapshotEvery)
	defer snapshotTicker.Stop()

	shardIdx := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.drainQueue()
		case <-lifecycleTicker.C:
			if s.lifecycle != nil {
				s.lifecycle(shardIdx, s.shardCount)
			}
			shardIdx = (shardIdx + 1) % s.shardCount
		case <-compactionTicker.C:
			if s.compaction != nil {
				s.compaction()
			}
		case <-snapshotTicker.C:
			if s.snapshot != nil {
				s.snapshot()
			}
		}
	}
}

// drainQueue applies every plasticity update currently queued, non-blocking
// once the queue empties.
func (s *Scheduler) drainQueue() {
	for {
		select {
		case u := <-s.queue:
			u.Apply()
		default:
			return
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}
