// Package namespace implements the per-user owner combining EpisodeStore,
// VectorIndex, KnowledgeGraph and WAL persistence under one reader/writer
// lock: record/delete/compaction/snapshot take the exclusive lock,
// retrieve takes the shared lock, and there is no global lock across users.
// The lock follows the usual per-store sync.RWMutex pattern, generalized
// here to guard four collaborating stores instead of one.
package namespace

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	gotoon "github.com/alpkeskin/gotoon"
	"github.com/google/uuid"

	"github.com/SarahR1/shodh-memory/ann"
	"github.com/SarahR1/shodh-memory/embedder"
	"github.com/SarahR1/shodh-memory/episodes"
	"github.com/SarahR1/shodh-memory/extract"
	"github.com/SarahR1/shodh-memory/graph"
	"github.com/SarahR1/shodh-memory/model"
	"github.com/SarahR1/shodh-memory/persistence"
	"github.com/SarahR1/shodh-memory/retriever"
	"github.com/SarahR1/shodh-memory/shodherr"
)

// Namespace owns every data structure for a single user.
type Namespace struct {
	mu sync.RWMutex

	UserID   string
	Episodes *episodes.Store
	Index    *ann.Index
	Graph    *graph.Graph
	WAL      *persistence.WAL

	// embeddingToEpisode maps an ann node id back to the episode it
	// embeds; ann ids and episode ids are independent address spaces.
	embeddingToEpisode map[int64]uuid.UUID
	episodeToEmbedding map[uuid.UUID]int64
}

// New constructs an empty namespace; wal may be nil (e.g. in tests that
// don't exercise recovery).
func New(userID string, dim int, annParams ann.Params, coldSink episodes.ColdSink, wal *persistence.WAL) *Namespace {
	return &Namespace{
		UserID:             userID,
		Episodes:           episodes.New(userID, coldSink),
		Index:              ann.New(dim, annParams),
		Graph:              graph.New(userID),
		WAL:                wal,
		embeddingToEpisode: make(map[int64]uuid.UUID),
		episodeToEmbedding: make(map[uuid.UUID]int64),
	}
}

// Record embeds content, dedupes/creates the episode, extracts and upserts
// its entities, links them, and inserts the embedding into the ANN index —
// all under the namespace's exclusive lock so no reader observes a partial
// write. If wal is configured the record event is appended once the episode
// has been created in the episode store and before the ANN and graph
// mutations for it are applied.
func (n *Namespace) Record(ctx context.Context, emb embedder.Embedder, content string, experienceType model.ExperienceType, tags []string, now time.Time) (*model.Episode, bool, error) {
	extracted := extract.Extract(content)

	vec, err := emb.Embed(ctx, content)
	if err != nil {
		return nil, false, shodherr.Transientf("namespace.Record", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ep, dup, err := n.Episodes.Record(content, experienceType, tags, extracted, now)
	if err != nil {
		return nil, false, err
	}
	if dup {
		return ep, true, nil
	}

	if n.WAL != nil {
		payload, merr := marshalRecord(ep, vec)
		if merr == nil {
			_ = n.WAL.Append(persistence.Event{Kind: persistence.EventRecord, At: now, Payload: payload})
		}
	}

	annID, err := n.Index.Insert(vec, 0)
	if err != nil {
		return ep, false, shodherr.Invalid("namespace.Record", err)
	}
	ep.EmbeddingRef = annID
	n.embeddingToEpisode[annID] = ep.ID
	n.episodeToEmbedding[ep.ID] = annID

	var entityIDs []uuid.UUID
	for _, e := range extracted.Entities {
		node := n.Graph.UpsertEntity(e.Canonical, e.Surface, e.Type, e.Proper, now)
		role := model.RoleMentioned
		n.Graph.LinkEpisode(ep.ID, node.ID, role)
		entityIDs = append(entityIDs, node.ID)
	}
	for i := 0; i < len(entityIDs); i++ {
		for j := i + 1; j < len(entityIDs); j++ {
			n.Graph.Strengthen(entityIDs[i], entityIDs[j], model.EdgeCoactivates, graph.EtaEpisode, now)
		}
	}

	return ep, false, nil
}

// Retrieve runs the hybrid retriever under the namespace's shared lock, so
// it never blocks behind another retrieval, only behind a writer.
func (n *Namespace) Retrieve(ctx context.Context, emb embedder.Embedder, query string, maxResults int, includeArchive bool) ([]retriever.Hit, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	r := &retriever.Retriever{
		Index:    n.Index,
		Graph:    n.Graph,
		Episodes: n.Episodes,
		Embed:    emb,
		EmbeddingByID: func(ref int64) (uuid.UUID, bool) {
			id, ok := n.embeddingToEpisode[ref]
			return id, ok
		},
	}
	return r.Retrieve(ctx, query, maxResults, includeArchive)
}

// Get fetches one episode by id, touching its access stats.
func (n *Namespace) Get(id uuid.UUID, now time.Time) (*model.Episode, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Episodes.Get(id, now)
}

// Delete removes an episode and its ANN entry under the exclusive lock.
func (n *Namespace) Delete(id uuid.UUID, now time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.WAL != nil {
		_ = n.WAL.Append(persistence.Event{Kind: persistence.EventDelete, At: now, Payload: []byte(`"` + id.String() + `"`)})
	}

	if err := n.Episodes.Delete(id); err != nil {
		return err
	}
	if annID, ok := n.episodeToEmbedding[id]; ok {
		_ = n.Index.Delete(annID)
		delete(n.episodeToEmbedding, id)
		delete(n.embeddingToEpisode, annID)
	}
	return nil
}

// ApplyLifecycle runs episode tier-demotion/decay for this namespace,
// weighting effective age by the aggregate salience of each episode's
// linked entities.
func (n *Namespace) ApplyLifecycle(now time.Time) (demoted, compressed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Episodes.ApplyLifecycle(now, func(episodeID uuid.UUID) float64 {
		total := 0.0
		count := 0
		for _, eid := range n.Graph.EntitiesForEpisode(episodeID) {
			if ent, ok := n.Graph.GetEntity(eid); ok {
				total += ent.Salience
				count++
			}
		}
		if count == 0 {
			return 0
		}
		return total / float64(count)
	})
}

// MaybeCompact compacts the ANN index if its tombstone fraction exceeds
// threshold.
func (n *Namespace) MaybeCompact(threshold float64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Index.TombstoneFraction() <= threshold {
		return false
	}
	n.Index.Compact()
	return true
}

// Stats summarizes the namespace for the engine's Stats surface.
type Stats struct {
	Episodes  int
	Entities  int
	Edges     int
	ANNLive   int
	Density   float64
}

func (n *Namespace) StatsSnapshot() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	g := n.Graph.StatsSnapshot()
	return Stats{
		Episodes: n.Episodes.Len(),
		Entities: g.Entities,
		Edges:    g.Edges,
		ANNLive:  n.Index.Len(),
		Density:  g.Density,
	}
}

// recordPayload is what a WAL "record" event carries: the episode plus the
// raw embedding vector, since Episode itself only stores the ANN id, and
// recovery needs the vector back to re-insert into a fresh ann.Index.
type recordPayload struct {
	Episode *model.Episode `json:"episode"`
	Vector  []float32      `json:"vector"`
}

func marshalRecord(ep *model.Episode, vec []float32) ([]byte, error) {
	return gotoon.Marshal(recordPayload{Episode: ep, Vector: vec})
}

const (
	snapshotEpisodesSection = "episodes"
	snapshotVectorsSection  = "vectors"
	snapshotEntitiesSection = "entities"
	snapshotEdgesSection    = "edges"
	snapshotLinksSection    = "links"
)

var snapshotSectionOrder = []string{
	snapshotEpisodesSection,
	snapshotVectorsSection,
	snapshotEntitiesSection,
	snapshotEdgesSection,
	snapshotLinksSection,
}

func snapshotPath(dir, userID string) string {
	return filepath.Join(dir, userID+".snapshot")
}

// Snapshot writes the full namespace state (episodes, ANN vectors, graph
// entities/edges/links) to dir, then resets the WAL: everything the WAL
// would otherwise replay is now captured in the snapshot itself.
func (n *Namespace) Snapshot(dir string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	episodesBlob, err := gotoon.Marshal(n.Episodes.All())
	if err != nil {
		return shodherr.Invalid("namespace.Snapshot", err)
	}
	vectorsBlob, err := gotoon.Marshal(n.Index.Dump())
	if err != nil {
		return shodherr.Invalid("namespace.Snapshot", err)
	}
	entitiesBlob, err := gotoon.Marshal(n.Graph.AllEntities())
	if err != nil {
		return shodherr.Invalid("namespace.Snapshot", err)
	}
	edgesBlob, err := gotoon.Marshal(n.Graph.AllEdges())
	if err != nil {
		return shodherr.Invalid("namespace.Snapshot", err)
	}
	linksBlob, err := gotoon.Marshal(n.Graph.AllLinks())
	if err != nil {
		return shodherr.Invalid("namespace.Snapshot", err)
	}

	sections := map[string][]byte{
		snapshotEpisodesSection: episodesBlob,
		snapshotVectorsSection:  vectorsBlob,
		snapshotEntitiesSection: entitiesBlob,
		snapshotEdgesSection:    edgesBlob,
		snapshotLinksSection:    linksBlob,
	}
	if err := persistence.WriteSnapshot(snapshotPath(dir, n.UserID), sections, snapshotSectionOrder); err != nil {
		return err
	}
	if n.WAL != nil {
		return n.WAL.Reset()
	}
	return nil
}

// Open constructs a namespace and recovers its state from dir: the last
// snapshot (if any) is restored first, then every WAL event still on disk
// (everything recorded since that snapshot) is replayed on top. A
// corrupt WAL tail is truncated at the offset ReadAll reports rather than
// aborting recovery, consistent with the "crash mid-append" handling in
// persistence.ReadAll.
func Open(userID string, dim int, annParams ann.Params, coldSink episodes.ColdSink, wal *persistence.WAL, dir string) (*Namespace, error) {
	n := New(userID, dim, annParams, coldSink, wal)
	if dir == "" {
		return n, nil
	}

	sections, err := persistence.ReadSnapshot(snapshotPath(dir, userID), snapshotSectionOrder)
	if err != nil {
		return nil, err
	}
	if sections != nil {
		if err := n.restoreSnapshot(sections); err != nil {
			return nil, err
		}
	}

	if wal == nil {
		return n, nil
	}
	events, offset, err := persistence.ReadAll(wal.Path())
	if err != nil {
		return nil, err
	}
	if err := n.replay(events); err != nil {
		return nil, err
	}
	if truncErr := wal.Truncate(offset); truncErr != nil {
		return nil, shodherr.Corrupt("namespace.Open", truncErr)
	}
	return n, nil
}

func (n *Namespace) restoreSnapshot(sections map[string][]byte) error {
	var eps []*model.Episode
	if err := gotoon.Unmarshal(sections[snapshotEpisodesSection], &eps); err != nil {
		return shodherr.Corrupt("namespace.restoreSnapshot", err)
	}
	var vecs []ann.VectorRecord
	if err := gotoon.Unmarshal(sections[snapshotVectorsSection], &vecs); err != nil {
		return shodherr.Corrupt("namespace.restoreSnapshot", err)
	}
	var entities []*model.EntityNode
	if err := gotoon.Unmarshal(sections[snapshotEntitiesSection], &entities); err != nil {
		return shodherr.Corrupt("namespace.restoreSnapshot", err)
	}
	var edges []*model.Edge
	if err := gotoon.Unmarshal(sections[snapshotEdgesSection], &edges); err != nil {
		return shodherr.Corrupt("namespace.restoreSnapshot", err)
	}
	var links []model.EpisodeEntityLink
	if err := gotoon.Unmarshal(sections[snapshotLinksSection], &links); err != nil {
		return shodherr.Corrupt("namespace.restoreSnapshot", err)
	}

	for _, ep := range eps {
		n.Episodes.RestoreEpisode(ep)
	}
	for _, v := range vecs {
		if _, err := n.Index.Insert(v.Vector, v.ID); err != nil {
			return shodherr.Corrupt("namespace.restoreSnapshot", err)
		}
		n.embeddingToEpisode[v.ID] = uuid.Nil
	}
	for _, ent := range entities {
		n.Graph.RestoreEntity(ent)
	}
	for _, e := range edges {
		n.Graph.RestoreEdge(e)
	}
	for _, l := range links {
		n.Graph.RestoreLink(l)
	}
	for _, ep := range eps {
		if ep.EmbeddingRef != 0 {
			n.embeddingToEpisode[ep.EmbeddingRef] = ep.ID
			n.episodeToEmbedding[ep.ID] = ep.EmbeddingRef
		}
	}
	return nil
}

// replay applies WAL events recorded since the last snapshot: "record"
// re-inserts the episode and its vector (re-running entity extraction,
// since that pipeline is deterministic and wasn't itself persisted) and
// "delete" removes it, exactly mirroring what Record/Delete did live.
func (n *Namespace) replay(events []persistence.Event) error {
	for _, ev := range events {
		switch ev.Kind {
		case persistence.EventRecord:
			var rec recordPayload
			if err := gotoon.Unmarshal(ev.Payload, &rec); err != nil {
				return shodherr.Corrupt("namespace.replay", err)
			}
			n.replayRecord(rec)
		case persistence.EventDelete:
			var id uuid.UUID
			if err := gotoon.Unmarshal(ev.Payload, &id); err != nil {
				return shodherr.Corrupt("namespace.replay", err)
			}
			_ = n.Episodes.Delete(id)
			if annID, ok := n.episodeToEmbedding[id]; ok {
				_ = n.Index.Delete(annID)
				delete(n.episodeToEmbedding, id)
				delete(n.embeddingToEpisode, annID)
			}
		}
	}
	return nil
}

func (n *Namespace) replayRecord(rec recordPayload) {
	ep := rec.Episode
	n.Episodes.RestoreEpisode(ep)

	annID, err := n.Index.Insert(rec.Vector, ep.EmbeddingRef)
	if err == nil {
		ep.EmbeddingRef = annID
		n.embeddingToEpisode[annID] = ep.ID
		n.episodeToEmbedding[ep.ID] = annID
	}

	extracted := extract.Extract(ep.Content)
	var entityIDs []uuid.UUID
	for _, e := range extracted.Entities {
		node := n.Graph.UpsertEntity(e.Canonical, e.Surface, e.Type, e.Proper, ep.CreatedAt)
		n.Graph.LinkEpisode(ep.ID, node.ID, model.RoleMentioned)
		entityIDs = append(entityIDs, node.ID)
	}
	for i := 0; i < len(entityIDs); i++ {
		for j := i + 1; j < len(entityIDs); j++ {
			n.Graph.Strengthen(entityIDs[i], entityIDs[j], model.EdgeCoactivates, graph.EtaEpisode, ep.CreatedAt)
		}
	}
}
