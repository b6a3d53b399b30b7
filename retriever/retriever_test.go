package retriever

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/SarahR1/shodh-memory/ann"
	"github.com/SarahR1/shodh-memory/embedder"
	"github.com/SarahR1/shodh-memory/episodes"
	"github.com/SarahR1/shodh-memory/extract"
	"github.com/SarahR1/shodh-memory/graph"
	"github.com/SarahR1/shodh-memory/model"
)

type memSink struct{ data map[string][]byte }

func newMemSink() *memSink { return &memSink{data: make(map[string][]byte)} }
func (m *memSink) Append(userID string, data []byte) (string, int64, error) {
	offset := int64(len(m.data[userID]))
	m.data[userID] = append(m.data[userID], data...)
	return userID, offset, nil
}

func TestEmptyCorpusReturnsEmptyNoError(t *testing.T) {
	r, _, _, _ := setupSimple(t, 4)
	hits, err := r.Retrieve(context.Background(), "anything", 5, false)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func setupSimple(t *testing.T, dim int) (*Retriever, *episodes.Store, *ann.Index, *graph.Graph) {
	idx := ann.New(dim, ann.DefaultParams())
	g := graph.New("u1")
	store := episodes.New("u1", newMemSink())
	embedByID := make(map[int64]uuid.UUID)

	r := &Retriever{
		Index:    idx,
		Graph:    g,
		Episodes: store,
		Embed:    embedder.Unit{Provider: embedder.NewDummy(dim), TargetDim: dim},
		EmbeddingByID: func(ref int64) (uuid.UUID, bool) {
			id, ok := embedByID[ref]
			return id, ok
		},
	}
	return r, store, idx, g
}

func TestSemanticRecallReturnsMatchingEpisode(t *testing.T) {
	r, store, idx, g := setupSimple(t, 8)
	embedByID := make(map[int64]uuid.UUID)
	r.EmbeddingByID = func(ref int64) (uuid.UUID, bool) { id, ok := embedByID[ref]; return id, ok }

	record := func(content string) *model.Episode {
		res := extract.Extract(content)
		ep, _, err := store.Record(content, model.Observation, nil, res, time.Now())
		require.NoError(t, err)
		for _, e := range res.Entities {
			n := g.UpsertEntity(e.Canonical, e.Surface, e.Type, e.Proper, time.Now())
			g.LinkEpisode(ep.ID, n.ID, model.RoleMentioned)
		}
		vec, err := r.Embed.Embed(context.Background(), content)
		require.NoError(t, err)
		annID, err := idx.Insert(vec, 0)
		require.NoError(t, err)
		embedByID[annID] = ep.ID
		return ep
	}

	ep1 := record("Kubernetes cluster migration completed successfully")
	record("the weather was sunny in the park")
	record("grocery list for the week")

	hits, err := r.Retrieve(context.Background(), "Kubernetes cluster migration completed successfully", 1, false)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, ep1.ID, hits[0].Episode.ID)
}

func TestGraphBoostsRelatedEpisode(t *testing.T) {
	r, store, idx, g := setupSimple(t, 8)
	embedByID := make(map[int64]uuid.UUID)
	r.EmbeddingByID = func(ref int64) (uuid.UUID, bool) { id, ok := embedByID[ref]; return id, ok }
	now := time.Now()

	alice := g.UpsertEntity("alice", "Alice", model.EntityPerson, true, now)
	bob := g.UpsertEntity("bob", "Bob", model.EntityPerson, true, now)
	for i := 0; i < 5; i++ {
		g.Strengthen(alice.ID, bob.ID, model.EdgeCoactivates, graph.EtaEpisode, now)
	}

	ep, _, err := store.Record("Bob fixed the outage quickly", model.Observation, nil, extract.Result{}, now)
	require.NoError(t, err)
	g.LinkEpisode(ep.ID, bob.ID, model.RoleSubject)
	vec, _ := r.Embed.Embed(context.Background(), "Bob fixed the outage quickly")
	annID, _ := idx.Insert(vec, 0)
	embedByID[annID] = ep.ID

	hits, err := r.Retrieve(context.Background(), "Alice", 5, false)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Greater(t, hits[0].GraphScore, 0.0)
}
