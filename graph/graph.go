// Package graph implements the per-user knowledge graph of entities and
// weighted relationships, Hebbian edge strengthening, and multi-hop
// spreading activation, stored as a plain map-plus-mutex structure.
package graph

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SarahR1/shodh-memory/model"
)

// Hebbian learning rates: episode-time coactivation strengthens more
// than a retrieval-time coactivation.
const (
	EtaEpisode   = 0.10
	EtaRetrieval = 0.05
)

// Salience base weights and multi-hop activation constants.
const (
	salienceBaseProper = 0.7
	salienceBaseCommon = 0.4
	salienceBaseOther  = 0.3

	MaxHopDepth  = 3
	HopDecay     = 0.5
)

// Graph is one user's entity/edge store.
type Graph struct {
	mu sync.RWMutex

	userID string

	entities map[uuid.UUID]*model.EntityNode
	byName   map[string]uuid.UUID // canonical_name -> id
	edges    map[uuid.UUID]map[uuid.UUID]*model.Edge

	episodeLinks map[uuid.UUID][]model.EpisodeEntityLink
}

// New constructs an empty per-user graph.
func New(userID string) *Graph {
	return &Graph{
		userID:       userID,
		entities:     make(map[uuid.UUID]*model.EntityNode),
		byName:       make(map[string]uuid.UUID),
		edges:        make(map[uuid.UUID]map[uuid.UUID]*model.Edge),
		episodeLinks: make(map[uuid.UUID][]model.EpisodeEntityLink),
	}
}

// UpsertEntity finds or creates the node for canonicalName, bumps its
// mention count, recomputes salience, and records a surface form.
func (g *Graph) UpsertEntity(canonicalName, surfaceForm string, typ model.EntityType, proper bool, now time.Time) *model.EntityNode {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byName[canonicalName]; ok {
		n := g.entities[id]
		n.MentionCount++
		n.AddSurfaceForm(surfaceForm)
		n.LastSeen = now
		n.Salience = computeSalience(n.MentionCount, proper, typ)
		return n
	}

	n := &model.EntityNode{
		ID:            uuid.New(),
		UserID:        g.userID,
		CanonicalName: canonicalName,
		SurfaceForms:  []string{surfaceForm},
		Type:          typ,
		MentionCount:  1,
		FirstSeen:     now,
		LastSeen:      now,
	}
	n.Salience = computeSalience(1, proper, typ)
	g.entities[n.ID] = n
	g.byName[canonicalName] = n.ID
	return n
}

// computeSalience applies the salience formula:
// base*(1+0.1*ln(1+mention_count)), clamped to [0,1]. base is 0.7 for proper
// nouns, 0.4 for common nouns/concepts, 0.3 otherwise.
func computeSalience(mentionCount uint32, proper bool, typ model.EntityType) float64 {
	base := salienceBaseOther
	switch {
	case proper:
		base = salienceBaseProper
	case typ == model.EntityConcept:
		base = salienceBaseCommon
	}
	s := base * (1 + 0.1*math.Log(1+float64(mentionCount)))
	return model.Clamp(s, 0, 1)
}

// AllEntities returns every entity node, for snapshotting.
func (g *Graph) AllEntities() []*model.EntityNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*model.EntityNode, 0, len(g.entities))
	for _, n := range g.entities {
		out = append(out, n)
	}
	return out
}

// AllEdges returns every edge (both directions of a strengthened pair are
// stored and returned separately), for snapshotting.
func (g *Graph) AllEdges() []*model.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*model.Edge
	for _, row := range g.edges {
		for _, e := range row {
			out = append(out, e)
		}
	}
	return out
}

// AllLinks returns every episode-entity link, for snapshotting.
func (g *Graph) AllLinks() []model.EpisodeEntityLink {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []model.EpisodeEntityLink
	for _, links := range g.episodeLinks {
		out = append(out, links...)
	}
	return out
}

// RestoreEntity re-inserts an entity node loaded from a snapshot, bypassing
// UpsertEntity's mention-count/salience recomputation.
func (g *Graph) RestoreEntity(n *model.EntityNode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities[n.ID] = n
	g.byName[n.CanonicalName] = n.ID
}

// RestoreEdge re-inserts a directed edge loaded from a snapshot.
func (g *Graph) RestoreEdge(e *model.Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	row, ok := g.edges[e.From]
	if !ok {
		row = make(map[uuid.UUID]*model.Edge)
		g.edges[e.From] = row
	}
	row[e.To] = e
}

// RestoreLink re-inserts an episode-entity link loaded from a snapshot.
func (g *Graph) RestoreLink(l model.EpisodeEntityLink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.episodeLinks[l.EpisodeID] {
		if existing.EntityID == l.EntityID {
			return
		}
	}
	g.episodeLinks[l.EpisodeID] = append(g.episodeLinks[l.EpisodeID], l)
}

// GetEntity looks up a node by id.
func (g *Graph) GetEntity(id uuid.UUID) (*model.EntityNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.entities[id]
	return n, ok
}

// FindByName looks up a node by its canonical name.
func (g *Graph) FindByName(canonicalName string) (*model.EntityNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byName[canonicalName]
	if !ok {
		return nil, false
	}
	return g.entities[id], true
}

// LinkEpisode records that episodeID mentions entityID in the given role,
// so later retrieval can recover an episode's entities without re-running
// extraction.
func (g *Graph) LinkEpisode(episodeID, entityID uuid.UUID, role model.LinkRole) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.entities[entityID]; !ok {
		return
	}
	for _, l := range g.episodeLinks[episodeID] {
		if l.EntityID == entityID {
			return
		}
	}
	g.episodeLinks[episodeID] = append(g.episodeLinks[episodeID], model.EpisodeEntityLink{
		EpisodeID: episodeID,
		EntityID:  entityID,
		Role:      role,
	})
}

// EntitiesForEpisode returns the entity ids linked to an episode.
func (g *Graph) EntitiesForEpisode(episodeID uuid.UUID) []uuid.UUID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	links := g.episodeLinks[episodeID]
	out := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		out = append(out, l.EntityID)
	}
	return out
}

// Strengthen applies Hebbian reinforcement to the (undirected, stored
// symmetrically) edge between a and b: weight += eta*(1-weight/WMax),
// coact_count++, with an LTP floor of 0.5 once coact_count reaches 5.
// kind identifies the relationship; eta distinguishes episode- vs
// retrieval-time coactivation.
func (g *Graph) Strengthen(a, b uuid.UUID, kind model.EdgeKind, eta float64, now time.Time) {
	if a == b {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.strengthenDirected(a, b, kind, eta, now)
	g.strengthenDirected(b, a, kind, eta, now)
}

func (g *Graph) strengthenDirected(from, to uuid.UUID, kind model.EdgeKind, eta float64, now time.Time) {
	row, ok := g.edges[from]
	if !ok {
		row = make(map[uuid.UUID]*model.Edge)
		g.edges[from] = row
	}
	e, ok := row[to]
	if !ok {
		e = &model.Edge{From: from, To: to, Kind: kind, Weight: 0}
		row[to] = e
	}

	e.Weight += eta * (1 - e.Weight/model.WMax)
	e.CoactCount++
	e.LastUpdate = now
	if e.LongTermPotentiated() && e.Weight < 0.5 {
		e.Weight = 0.5
	}
	if e.Weight >= model.WEpsilon {
		e.BelowEpsilonSince = time.Time{}
	} else if e.BelowEpsilonSince.IsZero() {
		e.BelowEpsilonSince = now
	}
}

// Neighbors returns the outgoing edges from an entity.
func (g *Graph) Neighbors(id uuid.UUID) []*model.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	row := g.edges[id]
	out := make([]*model.Edge, 0, len(row))
	for _, e := range row {
		out = append(out, e)
	}
	return out
}

// ActivationResult maps an entity id to its accumulated activation score.
type ActivationResult map[uuid.UUID]float64

// Activate runs depth-limited, salience-weighted spreading activation from a
// set of seed entities: each hop's contribution decays by HopDecay,
// and a node's score is the max contribution it receives across all paths
// (not a sum), which keeps a densely-connected hub from dominating purely by
// path count.
func (g *Graph) Activate(seeds []uuid.UUID, maxDepth int, decay float64) ActivationResult {
	if maxDepth <= 0 {
		maxDepth = MaxHopDepth
	}
	if decay <= 0 {
		decay = HopDecay
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make(ActivationResult)
	type frontierEntry struct {
		id    uuid.UUID
		score float64
		depth int
	}

	var frontier []frontierEntry
	for _, s := range seeds {
		n, ok := g.entities[s]
		if !ok {
			continue
		}
		score := n.Salience
		if existing, ok := result[s]; !ok || score > existing {
			result[s] = score
		}
		frontier = append(frontier, frontierEntry{id: s, score: score, depth: 0})
	}

	for len(frontier) > 0 {
		var next []frontierEntry
		for _, f := range frontier {
			if f.depth >= maxDepth {
				continue
			}
			for _, e := range g.edges[f.id] {
				neighbor, ok := g.entities[e.To]
				if !ok {
					continue
				}
				contribution := f.score * decay * clamp01(e.Weight/model.WMax) * neighbor.Salience
				if contribution <= 0 {
					continue
				}
				if existing, ok := result[e.To]; !ok || contribution > existing {
					result[e.To] = contribution
				}
				next = append(next, frontierEntry{id: e.To, score: contribution, depth: f.depth + 1})
			}
		}
		frontier = next
	}

	return result
}

func clamp01(v float64) float64 { return model.Clamp(v, 0, 1) }

// Stats summarizes graph size for the scheduler and engine Stats surface.
type Stats struct {
	Entities int
	Edges    int
	Density  float64
}

// StatsSnapshot reports density = edges/max(1,nodes), used by the retriever
// to set the graph/vector fusion weight.
func (g *Graph) StatsSnapshot() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edgeCount := 0
	for _, row := range g.edges {
		edgeCount += len(row)
	}
	nodes := len(g.entities)
	denom := nodes
	if denom < 1 {
		denom = 1
	}
	return Stats{Entities: nodes, Edges: edgeCount, Density: float64(edgeCount) / float64(denom)}
}

// GC removes edges eligible for garbage collection,
// called periodically by the scheduler.
func (g *Graph) GC(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for from, row := range g.edges {
		for to, e := range row {
			if e.EligibleForGC(now) {
				delete(row, to)
				removed++
			}
		}
		if len(row) == 0 {
			delete(g.edges, from)
		}
	}
	return removed
}

// TopEntities returns the n highest-salience entities, for diagnostics.
func (g *Graph) TopEntities(n int) []*model.EntityNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	all := make([]*model.EntityNode, 0, len(g.entities))
	for _, e := range g.entities {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Salience > all[j].Salience })
	if n < len(all) {
		all = all[:n]
	}
	return all
}
