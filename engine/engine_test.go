package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SarahR1/shodh-memory/config"
	"github.com/SarahR1/shodh-memory/model"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.EmbedDim = 8
	cfg.EmbedProvider = "dummy"
	cfg.StoragePath = t.TempDir()
	return cfg
}

func TestRecordAndRetrieveRoundTrip(t *testing.T) {
	p := New(testConfig(t), zap.NewNop(), nil)
	ctx := context.Background()

	ep, dup, err := p.Record(ctx, "user-1", "migrated the database to postgres", model.Observation, []string{"infra"})
	require.NoError(t, err)
	require.False(t, dup)

	hits, err := p.Retrieve(ctx, "user-1", "migrated the database to postgres", 5, false)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, ep.ID, hits[0].Episode.ID)
}

func TestDeleteThenGetReturnsNotFound(t *testing.T) {
	p := New(testConfig(t), zap.NewNop(), nil)
	ctx := context.Background()

	ep, _, err := p.Record(ctx, "user-1", "a memory to remove later", model.Observation, nil)
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, "user-1", ep.ID))
	_, err = p.Get(ctx, "user-1", ep.ID)
	require.Error(t, err)
}

func TestNamespacesAreIsolatedPerUser(t *testing.T) {
	p := New(testConfig(t), zap.NewNop(), nil)
	ctx := context.Background()

	_, _, err := p.Record(ctx, "user-a", "alpha team retrospective notes", model.Observation, nil)
	require.NoError(t, err)
	_, _, err = p.Record(ctx, "user-b", "beta team retrospective notes", model.Observation, nil)
	require.NoError(t, err)

	statsA := p.Stats(ctx, "user-a")
	statsB := p.Stats(ctx, "user-b")
	require.Equal(t, 1, statsA.Episodes)
	require.Equal(t, 1, statsB.Episodes)
}

func TestHealthReportsOK(t *testing.T) {
	p := New(testConfig(t), zap.NewNop(), nil)
	require.NoError(t, p.Health(context.Background()))
}

func TestMetricsCountOperations(t *testing.T) {
	p := New(testConfig(t), zap.NewNop(), nil)
	ctx := context.Background()

	ep, _, err := p.Record(ctx, "user-1", "tracked metrics for this call", model.Observation, nil)
	require.NoError(t, err)
	_, err = p.Retrieve(ctx, "user-1", "tracked metrics for this call", 5, false)
	require.NoError(t, err)
	require.NoError(t, p.Delete(ctx, "user-1", ep.ID))

	snap := p.MetricsSnapshot()
	require.Equal(t, int64(1), snap.Records)
	require.Equal(t, int64(1), snap.Retrieves)
	require.Equal(t, int64(1), snap.Deletes)
}
