// Package engine wires every component into the top-level process surface:
// Record, Retrieve, Get, Delete, Stats, Health, via constructor options,
// context-scoped operations, and an atomic-counter Metrics type, each
// generalized from a single flat store to a per-user namespace map.
package engine

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SarahR1/shodh-memory/ann"
	"github.com/SarahR1/shodh-memory/config"
	"github.com/SarahR1/shodh-memory/embedder"
	"github.com/SarahR1/shodh-memory/episodes"
	"github.com/SarahR1/shodh-memory/model"
	"github.com/SarahR1/shodh-memory/namespace"
	"github.com/SarahR1/shodh-memory/persistence"
	"github.com/SarahR1/shodh-memory/retriever"
	"github.com/SarahR1/shodh-memory/scheduler"
	"github.com/SarahR1/shodh-memory/shodherr"
)

// Metrics tracks process-wide call counts with lock-free atomics.
type Metrics struct {
	records   int64
	retrieves int64
	deletes   int64
	errors    int64
}

// MetricsSnapshot is an immutable point-in-time read of Metrics.
type MetricsSnapshot struct {
	Records   int64
	Retrieves int64
	Deletes   int64
	Errors    int64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Records:   atomic.LoadInt64(&m.records),
		Retrieves: atomic.LoadInt64(&m.retrieves),
		Deletes:   atomic.LoadInt64(&m.deletes),
		Errors:    atomic.LoadInt64(&m.errors),
	}
}

// Process is the top-level entry point a caller embeds the engine through
//. One Process serves every user namespace.
type Process struct {
	cfg config.Config
	log *zap.Logger

	embed     embedder.Embedder
	scheduler *scheduler.Scheduler
	metrics   Metrics

	coldSink episodes.ColdSink
	walDir   string

	mu           sync.RWMutex
	namespaces   map[string]*namespace.Namespace
	eventsSince  map[string]int
	lastSnapshot map[string]time.Time
}

// New constructs a Process from configuration, ready for Record/Retrieve
// once Run has been started in the background for maintenance.
func New(cfg config.Config, log *zap.Logger, coldSink episodes.ColdSink) *Process {
	if log == nil {
		log = zap.NewNop()
	}
	emb := embedder.Auto(log, cfg.EmbedProvider, cfg.EmbedModel, cfg.OllamaHost, cfg.EmbedDim, cfg.StoragePath)

	p := &Process{
		cfg:          cfg,
		log:          log,
		embed:        emb,
		coldSink:     coldSink,
		walDir:       cfg.StoragePath,
		namespaces:   make(map[string]*namespace.Namespace),
		eventsSince:  make(map[string]int),
		lastSnapshot: make(map[string]time.Time),
	}
	p.scheduler = scheduler.New(log, cfg.SchedulerTick, p.lifecycleShard, p.compactionCheck, p.snapshotCheck)
	return p
}

// Run starts the background scheduler loop; it blocks until ctx is done.
func (p *Process) Run(ctx context.Context) {
	p.scheduler.Run(ctx)
}

func (p *Process) namespaceFor(userID string) *namespace.Namespace {
	p.mu.RLock()
	ns, ok := p.namespaces[userID]
	p.mu.RUnlock()
	if ok {
		return ns
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ns, ok := p.namespaces[userID]; ok {
		return ns
	}

	var wal *persistence.WAL
	if p.walDir != "" {
		w, err := persistence.OpenWAL(p.walDir, userID, p.cfg.FsyncBatchSize, p.cfg.FsyncInterval)
		if err != nil {
			p.log.Warn("engine: failed to open WAL, continuing without durability", zap.String("user_id", userID), zap.Error(err))
		} else {
			wal = w
		}
	}

	ns, err := namespace.Open(userID, p.cfg.EmbedDim, ann.Params{R: p.cfg.ANN_R, L: p.cfg.ANN_L, Alpha: p.cfg.ANN_Alpha}, p.coldSink, wal, p.walDir)
	if err != nil {
		p.log.Warn("engine: recovery failed, starting from an empty namespace", zap.String("user_id", userID), zap.Error(err))
		ns = namespace.New(userID, p.cfg.EmbedDim, ann.Params{R: p.cfg.ANN_R, L: p.cfg.ANN_L, Alpha: p.cfg.ANN_Alpha}, p.coldSink, wal)
	}
	p.namespaces[userID] = ns
	p.lastSnapshot[userID] = time.Now()
	return ns
}

// Record ingests one experience for a user.
func (p *Process) Record(ctx context.Context, userID, content string, experienceType model.ExperienceType, tags []string) (*model.Episode, bool, error) {
	ns := p.namespaceFor(userID)
	ep, dup, err := ns.Record(ctx, p.embed, content, experienceType, tags, time.Now())
	if err != nil {
		atomic.AddInt64(&p.metrics.errors, 1)
		return nil, false, err
	}
	atomic.AddInt64(&p.metrics.records, 1)
	if !dup {
		p.mu.Lock()
		p.eventsSince[userID]++
		p.mu.Unlock()
	}
	return ep, dup, nil
}

// Retrieve answers a query for a user.
func (p *Process) Retrieve(ctx context.Context, userID, query string, maxResults int, includeArchive bool) ([]retriever.Hit, error) {
	ns := p.namespaceFor(userID)
	hits, err := ns.Retrieve(ctx, p.embed, query, maxResults, includeArchive)
	if err != nil {
		atomic.AddInt64(&p.metrics.errors, 1)
		return nil, err
	}
	atomic.AddInt64(&p.metrics.retrieves, 1)
	return hits, nil
}

// Get fetches a single episode by id for a user.
func (p *Process) Get(ctx context.Context, userID string, memoryID uuid.UUID) (*model.Episode, error) {
	ns := p.namespaceFor(userID)
	return ns.Get(memoryID, time.Now())
}

// Delete removes a single episode by id for a user.
func (p *Process) Delete(ctx context.Context, userID string, memoryID uuid.UUID) error {
	ns := p.namespaceFor(userID)
	err := ns.Delete(memoryID, time.Now())
	if err != nil {
		atomic.AddInt64(&p.metrics.errors, 1)
		return err
	}
	atomic.AddInt64(&p.metrics.deletes, 1)
	p.mu.Lock()
	p.eventsSince[userID]++
	p.mu.Unlock()
	return nil
}

// Stats reports one user's namespace statistics.
func (p *Process) Stats(ctx context.Context, userID string) namespace.Stats {
	ns := p.namespaceFor(userID)
	return ns.StatsSnapshot()
}

// MetricsSnapshot returns process-wide call counters.
func (p *Process) MetricsSnapshot() MetricsSnapshot {
	return p.metrics.Snapshot()
}

// Health reports whether the process has an embedder to serve requests
// with. It only checks that one is configured and does not call it.
func (p *Process) Health(ctx context.Context) error {
	if p.embed == nil {
		return shodherr.Fatalf("engine.Health", embedder.ErrUnavailable)
	}
	return nil
}

// lifecycleShard runs ApplyLifecycle over every namespace whose name hashes
// into the current shard, called by the scheduler once a minute.
func (p *Process) lifecycleShard(shardIndex, shardCount int) {
	p.mu.RLock()
	targets := make([]*namespace.Namespace, 0, len(p.namespaces))
	for userID, ns := range p.namespaces {
		h := fnv.New32a()
		h.Write([]byte(userID))
		if shardCount <= 1 || int(h.Sum32()%uint32(shardCount)) == shardIndex {
			targets = append(targets, ns)
		}
	}
	p.mu.RUnlock()

	now := time.Now()
	for _, ns := range targets {
		ns.ApplyLifecycle(now)
	}
}

// compactionCheck triggers ANN compaction for any namespace above the
// tombstone threshold, called by the scheduler every 10 minutes.
func (p *Process) compactionCheck() {
	const tombstoneThreshold = 0.25
	p.mu.RLock()
	targets := make([]*namespace.Namespace, 0, len(p.namespaces))
	for _, ns := range p.namespaces {
		targets = append(targets, ns)
	}
	p.mu.RUnlock()

	for _, ns := range targets {
		ns.MaybeCompact(tombstoneThreshold)
	}
}

// snapshotCheck snapshots any namespace that has crossed either its
// event-count or its time-since-last-snapshot threshold — whichever fires
// first, matching the same two-independent-conditions pacing used for WAL
// fsyncs.
func (p *Process) snapshotCheck() {
	if p.walDir == "" {
		return
	}
	now := time.Now()

	p.mu.RLock()
	type due struct {
		userID string
		ns     *namespace.Namespace
	}
	var targets []due
	for userID, ns := range p.namespaces {
		count := p.eventsSince[userID]
		last := p.lastSnapshot[userID]
		if count >= p.cfg.SnapshotEventThreshold || now.Sub(last) >= p.cfg.SnapshotInterval {
			targets = append(targets, due{userID: userID, ns: ns})
		}
	}
	p.mu.RUnlock()

	for _, t := range targets {
		if err := t.ns.Snapshot(p.walDir); err != nil {
			p.log.Warn("engine: snapshot failed", zap.String("user_id", t.userID), zap.Error(err))
			continue
		}
		p.mu.Lock()
		p.eventsSince[t.userID] = 0
		p.lastSnapshot[t.userID] = now
		p.mu.Unlock()
	}
}
