// Package retriever implements hybrid vector+graph retrieval, fusing
// ANN cosine similarity with multi-hop graph activation under a
// density-dependent weight, then asynchronously strengthens coactivation
// between the entities behind the returned episodes. The pipeline shape
// (embed -> search k*N -> graph neighborhood merge -> weighted score ->
// final sort/truncate) is standard; the fusion formula is its own.
package retriever

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/SarahR1/shodh-memory/ann"
	"github.com/SarahR1/shodh-memory/embedder"
	"github.com/SarahR1/shodh-memory/episodes"
	"github.com/SarahR1/shodh-memory/extract"
	"github.com/SarahR1/shodh-memory/graph"
	"github.com/SarahR1/shodh-memory/model"
)

// Activation constants.
const (
	ActivationDepth = graph.MaxHopDepth
	ActivationDecay = graph.HopDecay

	fallbackVecHits = 5
	maxStrengthenPairs = 10
)

// Hit is one scored episode in a retrieval result.
type Hit struct {
	Episode    *model.Episode
	VecScore   float64
	GraphScore float64
	FinalScore float64
}

// Retriever fuses one user's ANN index, knowledge graph, and episode store.
type Retriever struct {
	Index    *ann.Index
	Graph    *graph.Graph
	Episodes *episodes.Store
	Embed    embedder.Embedder

	// EmbeddingByID resolves an ann node id back to the id of the episode
	// it embeds, since the episode store and ann index are addressed
	// independently.
	EmbeddingByID func(ref int64) (uuid.UUID, bool)
}

// graphWeight computes the density-dependent fusion weight:
// w_graph = clamp(0.10+0.08*density, 0.10, 0.50), w_vec = 1-w_graph.
func graphWeight(density float64) (wVec, wGraph float64) {
	wGraph = model.Clamp(0.10+0.08*density, 0.10, 0.50)
	return 1 - wGraph, wGraph
}

// Retrieve runs the full hybrid pipeline for one query. An empty
// corpus returns an empty, error-free result.
func (r *Retriever) Retrieve(ctx context.Context, query string, maxResults int, includeArchive bool) ([]Hit, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	if r.Index.Len() == 0 {
		return nil, nil
	}

	queryVec, err := r.Embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := r.Index.Search(queryVec, maxResults*3)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	seeds := r.resolveQueryEntities(query, candidates)
	activation := r.Graph.Activate(seeds, ActivationDepth, ActivationDecay)
	wVec, wGraph := graphWeight(r.Graph.StatsSnapshot().Density)

	type scored struct {
		episode    *model.Episode
		vecScore   float64
		rawGraph   float64
	}
	scoredHits := make([]scored, 0, len(candidates))
	maxRaw := 0.0
	for _, c := range candidates {
		ep := r.episodeForEmbeddingID(c.ID)
		if ep == nil {
			continue
		}
		if ep.Tier == model.TierArchive && !includeArchive {
			continue
		}
		raw := r.graphScoreFor(ep.ID, activation)
		if raw > maxRaw {
			maxRaw = raw
		}
		scoredHits = append(scoredHits, scored{episode: ep, vecScore: c.Score, rawGraph: raw})
	}

	hits := make([]Hit, 0, len(scoredHits))
	for _, s := range scoredHits {
		normGraph := 0.0
		if maxRaw > 0 {
			normGraph = s.rawGraph / maxRaw
		}
		final := wVec*s.vecScore + wGraph*normGraph
		hits = append(hits, Hit{Episode: s.episode, VecScore: s.vecScore, GraphScore: normGraph, FinalScore: final})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].FinalScore != hits[j].FinalScore {
			return hits[i].FinalScore > hits[j].FinalScore
		}
		return hits[i].Episode.CreatedAt.After(hits[j].Episode.CreatedAt)
	})
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	now := time.Now()
	for _, h := range hits {
		h.Episode.Touch(now)
	}
	go r.strengthenReturnedSet(hits, now)

	return hits, nil
}

// resolveQueryEntities extracts entities from the query text and resolves
// them against the graph; if none resolve, it falls back to the entities
// linked from the top-5 vector hits.
func (r *Retriever) resolveQueryEntities(query string, candidates []ann.SearchResult) []uuid.UUID {
	extracted := extract.Extract(query)
	var seeds []uuid.UUID
	for _, e := range extracted.Entities {
		if n, ok := r.Graph.FindByName(e.Canonical); ok {
			seeds = append(seeds, n.ID)
		}
	}
	if len(seeds) > 0 {
		return seeds
	}

	limit := fallbackVecHits
	if limit > len(candidates) {
		limit = len(candidates)
	}
	seen := make(map[uuid.UUID]struct{})
	for _, c := range candidates[:limit] {
		ep := r.episodeForEmbeddingID(c.ID)
		if ep == nil {
			continue
		}
		for _, eid := range r.Graph.EntitiesForEpisode(ep.ID) {
			if _, ok := seen[eid]; !ok {
				seen[eid] = struct{}{}
				seeds = append(seeds, eid)
			}
		}
	}
	return seeds
}

// graphScoreFor sums activation*salience over an episode's linked entities
// before normalization).
func (r *Retriever) graphScoreFor(episodeID uuid.UUID, activation graph.ActivationResult) float64 {
	total := 0.0
	for _, eid := range r.Graph.EntitiesForEpisode(episodeID) {
		act, ok := activation[eid]
		if !ok {
			continue
		}
		n, ok := r.Graph.GetEntity(eid)
		if !ok {
			continue
		}
		total += act * n.Salience
	}
	return total
}

func (r *Retriever) episodeForEmbeddingID(annID int64) *model.Episode {
	if r.EmbeddingByID == nil {
		return nil
	}
	episodeID, ok := r.EmbeddingByID(annID)
	if !ok {
		return nil
	}
	ep, ok := r.Episodes.Peek(episodeID)
	if !ok {
		return nil
	}
	return ep
}

// strengthenReturnedSet fires a bounded round of retrieval-time coactivation
// strengthening across the episodes returned together, capped at
// maxStrengthenPairs to keep this O(1)-ish regardless of result size
//.
func (r *Retriever) strengthenReturnedSet(hits []Hit, now time.Time) {
	var entityIDs []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for _, h := range hits {
		for _, eid := range r.Graph.EntitiesForEpisode(h.Episode.ID) {
			if _, ok := seen[eid]; !ok {
				seen[eid] = struct{}{}
				entityIDs = append(entityIDs, eid)
			}
		}
	}
	if len(entityIDs) < 2 {
		return
	}

	pairs := allPairs(entityIDs)
	if len(pairs) > maxStrengthenPairs {
		rand.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
		pairs = pairs[:maxStrengthenPairs]
	}
	for _, p := range pairs {
		r.Graph.Strengthen(p[0], p[1], model.EdgeCoactivates, graph.EtaRetrieval, now)
	}
}

func allPairs(ids []uuid.UUID) [][2]uuid.UUID {
	var pairs [][2]uuid.UUID
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			pairs = append(pairs, [2]uuid.UUID{ids[i], ids[j]})
		}
	}
	return pairs
}
