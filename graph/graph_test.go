package graph

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/SarahR1/shodh-memory/model"
)

func TestUpsertEntityAccumulatesSalience(t *testing.T) {
	g := New("u1")
	now := time.Now()

	n1 := g.UpsertEntity("acme corp", "Acme Corp", model.EntityOrganization, true, now)
	require.Equal(t, uint32(1), n1.MentionCount)
	require.InDelta(t, salienceBaseProper*(1+0.1*math.Log(2)), n1.Salience, 1e-9)

	n2 := g.UpsertEntity("acme corp", "ACME", model.EntityOrganization, true, now.Add(time.Minute))
	require.Equal(t, n1.ID, n2.ID)
	require.Equal(t, uint32(2), n2.MentionCount)
	require.Greater(t, n2.Salience, n1.Salience)
	require.Contains(t, n2.SurfaceForms, "ACME")
}

func TestStrengthenIsSymmetricAndRespectsLTPFloor(t *testing.T) {
	g := New("u1")
	now := time.Now()
	a := g.UpsertEntity("alice", "Alice", model.EntityPerson, true, now)
	b := g.UpsertEntity("bob", "Bob", model.EntityPerson, true, now)

	for i := 0; i < 5; i++ {
		g.Strengthen(a.ID, b.ID, model.EdgeCoactivates, EtaEpisode, now)
	}

	neighborsA := g.Neighbors(a.ID)
	require.Len(t, neighborsA, 1)
	require.Equal(t, uint32(5), neighborsA[0].CoactCount)
	require.True(t, neighborsA[0].LongTermPotentiated())
	require.GreaterOrEqual(t, neighborsA[0].Weight, 0.5)

	neighborsB := g.Neighbors(b.ID)
	require.Len(t, neighborsB, 1)
	require.Equal(t, neighborsA[0].Weight, neighborsB[0].Weight)
}

func TestActivateDecaysOverHopsAndStopsAtMaxDepth(t *testing.T) {
	g := New("u1")
	now := time.Now()
	a := g.UpsertEntity("a", "a", model.EntityConcept, false, now)
	b := g.UpsertEntity("b", "b", model.EntityConcept, false, now)
	c := g.UpsertEntity("c", "c", model.EntityConcept, false, now)
	d := g.UpsertEntity("d", "d", model.EntityConcept, false, now)

	g.Strengthen(a.ID, b.ID, model.EdgeRelatedTo, EtaEpisode, now)
	g.Strengthen(b.ID, c.ID, model.EdgeRelatedTo, EtaEpisode, now)
	g.Strengthen(c.ID, d.ID, model.EdgeRelatedTo, EtaEpisode, now)

	result := g.Activate([]uuid.UUID{a.ID}, 2, HopDecay)
	_, dReached := result[d.ID]
	require.False(t, dReached, "depth-2 activation must not reach a 3-hop node")
	require.Contains(t, result, b.ID)
	require.Contains(t, result, c.ID)
	require.Greater(t, result[b.ID], result[c.ID])
}

func TestStatsSnapshotDensity(t *testing.T) {
	g := New("u1")
	now := time.Now()
	a := g.UpsertEntity("a", "a", model.EntityConcept, false, now)
	b := g.UpsertEntity("b", "b", model.EntityConcept, false, now)
	g.Strengthen(a.ID, b.ID, model.EdgeRelatedTo, EtaEpisode, now)

	stats := g.StatsSnapshot()
	require.Equal(t, 2, stats.Entities)
	require.Equal(t, 2, stats.Edges) // symmetric storage: one edge each direction
	require.InDelta(t, 1.0, stats.Density, 1e-9)
}
