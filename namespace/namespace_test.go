package namespace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SarahR1/shodh-memory/ann"
	"github.com/SarahR1/shodh-memory/embedder"
	"github.com/SarahR1/shodh-memory/model"
	"github.com/SarahR1/shodh-memory/persistence"
)

func TestRecordThenRetrieveFindsEpisode(t *testing.T) {
	ns := New("u1", 8, ann.DefaultParams(), nil, nil)
	emb := embedder.Unit{Provider: embedder.NewDummy(8), TargetDim: 8}

	ep, dup, err := ns.Record(context.Background(), emb, "deployed the new release to production", model.Observation, nil, time.Now())
	require.NoError(t, err)
	require.False(t, dup)
	require.NotEmpty(t, ep.ID)

	hits, err := ns.Retrieve(context.Background(), emb, "deployed the new release to production", 5, false)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, ep.ID, hits[0].Episode.ID)
}

func TestRecordDedupIsIdempotent(t *testing.T) {
	ns := New("u1", 8, ann.DefaultParams(), nil, nil)
	emb := embedder.Unit{Provider: embedder.NewDummy(8), TargetDim: 8}

	ep1, dup1, err := ns.Record(context.Background(), emb, "the build failed again", model.Error, nil, time.Now())
	require.NoError(t, err)
	require.False(t, dup1)

	ep2, dup2, err := ns.Record(context.Background(), emb, "the build failed again", model.Error, nil, time.Now())
	require.NoError(t, err)
	require.True(t, dup2)
	require.Equal(t, ep1.ID, ep2.ID)

	stats := ns.StatsSnapshot()
	require.Equal(t, 1, stats.Episodes)
}

func TestDeleteRemovesFromBothStores(t *testing.T) {
	ns := New("u1", 8, ann.DefaultParams(), nil, nil)
	emb := embedder.Unit{Provider: embedder.NewDummy(8), TargetDim: 8}

	ep, _, err := ns.Record(context.Background(), emb, "a memory worth deleting", model.Observation, nil, time.Now())
	require.NoError(t, err)

	require.NoError(t, ns.Delete(ep.ID, time.Now()))
	_, err = ns.Get(ep.ID, time.Now())
	require.Error(t, err)

	stats := ns.StatsSnapshot()
	require.Equal(t, 0, stats.ANNLive)
}

func TestOpenReplaysWALAfterCrashWithNoSnapshot(t *testing.T) {
	dir := t.TempDir()
	emb := embedder.Unit{Provider: embedder.NewDummy(8), TargetDim: 8}

	wal, err := persistence.OpenWAL(dir, "u1", 1, 10*time.Millisecond)
	require.NoError(t, err)

	ns, err := Open("u1", 8, ann.DefaultParams(), nil, wal, dir)
	require.NoError(t, err)

	ep, _, err := ns.Record(context.Background(), emb, "paid the electric bill on time", model.Observation, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, wal.Flush())
	require.NoError(t, wal.Close())

	// Simulate a crash: the in-memory namespace is discarded without a
	// clean Snapshot, leaving only the WAL on disk.
	wal2, err := persistence.OpenWAL(dir, "u1", 1, 10*time.Millisecond)
	require.NoError(t, err)

	recovered, err := Open("u1", 8, ann.DefaultParams(), nil, wal2, dir)
	require.NoError(t, err)

	got, err := recovered.Get(ep.ID, time.Now())
	require.NoError(t, err)
	require.Equal(t, ep.Content, got.Content)

	stats := recovered.StatsSnapshot()
	require.Equal(t, 1, stats.Episodes)
	require.Equal(t, 1, stats.ANNLive)

	hits, err := recovered.Retrieve(context.Background(), emb, "paid the electric bill on time", 5, false)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, ep.ID, hits[0].Episode.ID)
}

func TestOpenRestoresFromSnapshotThenReplaysRemainingWAL(t *testing.T) {
	dir := t.TempDir()
	emb := embedder.Unit{Provider: embedder.NewDummy(8), TargetDim: 8}

	wal, err := persistence.OpenWAL(dir, "u2", 1, 10*time.Millisecond)
	require.NoError(t, err)
	ns, err := Open("u2", 8, ann.DefaultParams(), nil, wal, dir)
	require.NoError(t, err)

	ep1, _, err := ns.Record(context.Background(), emb, "reviewed the quarterly budget with finance", model.Observation, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, ns.Snapshot(dir))

	ep2, _, err := ns.Record(context.Background(), emb, "escalated the outage to the on-call engineer", model.Error, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, wal.Flush())
	require.NoError(t, wal.Close())

	wal2, err := persistence.OpenWAL(dir, "u2", 1, 10*time.Millisecond)
	require.NoError(t, err)
	recovered, err := Open("u2", 8, ann.DefaultParams(), nil, wal2, dir)
	require.NoError(t, err)

	stats := recovered.StatsSnapshot()
	require.Equal(t, 2, stats.Episodes)
	require.Equal(t, 2, stats.ANNLive)

	got1, err := recovered.Get(ep1.ID, time.Now())
	require.NoError(t, err)
	require.Equal(t, ep1.Content, got1.Content)

	got2, err := recovered.Get(ep2.ID, time.Now())
	require.NoError(t, err)
	require.Equal(t, ep2.Content, got2.Content)
}
