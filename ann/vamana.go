// Package ann implements a Vamana/DiskANN-style graph-based approximate
// nearest-neighbor index over per-user embeddings. RobustPrune and greedy
// search follow the published Vamana/DiskANN algorithm description rather
// than any single reference file (see DESIGN.md).
package ann

import (
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/SarahR1/shodh-memory/model"
)

// Params are the Vamana construction/search parameters.
type Params struct {
	R     int     // max out-degree
	L     int     // search list size
	Alpha float64 // pruning slack
}

// DefaultParams matches the default configuration table.
func DefaultParams() Params { return Params{R: 32, L: 64, Alpha: 1.2} }

var (
	// ErrDimensionMismatch is returned when a vector's length does not
	// match the index's fixed dimension.
	ErrDimensionMismatch = errors.New("ann: dimension mismatch")
	// ErrTombstoned is returned when an operation targets a deleted node.
	ErrTombstoned = errors.New("ann: tombstoned")
)

type node struct {
	id         int64
	vector     []float32
	neighbors  []int64
	tombstoned bool
}

// SearchResult is one hit from Search, ranked by cosine similarity.
type SearchResult struct {
	ID    int64
	Score float64
}

// Index is a single user's ANN partition.
type Index struct {
	mu sync.RWMutex

	params Params
	dim    int

	nodes      map[int64]*node
	entryPoint int64
	centroid   []float32
	nextID     int64

	tombstoneCount int
}

// New constructs an empty index for the given embedding dimension.
func New(dim int, params Params) *Index {
	if params.R <= 0 {
		params = DefaultParams()
	}
	return &Index{
		params: params,
		dim:    dim,
		nodes:  make(map[int64]*node),
	}
}

// Len returns the number of live (non-tombstoned) nodes.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes) - idx.tombstoneCount
}

// VectorRecord is one live node's id and vector, used by Dump.
type VectorRecord struct {
	ID     int64
	Vector []float32
}

// Dump returns every live node's id and vector, for snapshotting. Graph
// edges are not included: a snapshot restore re-inserts each vector and
// lets RobustPrune rebuild the graph structure, rather than serializing
// the adjacency list directly.
func (idx *Index) Dump() []VectorRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]VectorRecord, 0, len(idx.nodes)-idx.tombstoneCount)
	for _, n := range idx.nodes {
		if n.tombstoned {
			continue
		}
		v := make([]float32, len(n.vector))
		copy(v, n.vector)
		out = append(out, VectorRecord{ID: n.id, Vector: v})
	}
	return out
}

// dist is a monotonic distance compatible with cosine similarity comparisons:
// unit vectors make 1-cos(a,b) order-equivalent to squared Euclidean
// distance, so RobustPrune's slack comparisons behave as in the original
// Vamana paper without requiring raw Euclidean vectors.
func dist(a, b []float32) float64 {
	return 1 - model.CosineSimilarity(a, b)
}

// Insert adds v under id (id==0 auto-assigns), wiring it into the Vamana
// graph via greedy search + RobustPrune, then adding back-edges and
// re-pruning any neighbor that overflows R.
func (idx *Index) Insert(v []float32, id int64) (int64, error) {
	if len(v) != idx.dim {
		return 0, ErrDimensionMismatch
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if id == 0 {
		idx.nextID++
		id = idx.nextID
	} else if id > idx.nextID {
		idx.nextID = id
	}

	vec := append([]float32(nil), v...)
	n := &node{id: id, vector: vec}
	idx.nodes[id] = n
	idx.updateCentroid(vec)

	if len(idx.nodes)-idx.tombstoneCount == 1 {
		idx.entryPoint = id
		return id, nil
	}

	visited := idx.greedySearch(vec, idx.params.L, idx.entryPoint)
	neighbors := idx.robustPrune(id, candidateIDs(visited))
	n.neighbors = neighbors

	for _, nb := range neighbors {
		idx.addBackEdge(nb, id)
	}

	idx.refreshEntryPoint()
	return id, nil
}

// addBackEdge adds id as a neighbor of nb, re-pruning nb if it overflows R.
func (idx *Index) addBackEdge(nb, id int64) {
	nbNode, ok := idx.nodes[nb]
	if !ok || nbNode.tombstoned {
		return
	}
	for _, existing := range nbNode.neighbors {
		if existing == id {
			return
		}
	}
	nbNode.neighbors = append(nbNode.neighbors, id)
	if len(nbNode.neighbors) > idx.params.R {
		candidates := make([]int64, 0, len(nbNode.neighbors))
		candidates = append(candidates, nbNode.neighbors...)
		nbNode.neighbors = idx.robustPrune(nb, candidates)
	}
}

// updateCentroid maintains a running mean used to pick the entry point —
// the node closest to the centroid is the best greedy-search starting point.
func (idx *Index) updateCentroid(v []float32) {
	if idx.centroid == nil {
		idx.centroid = append([]float32(nil), v...)
		return
	}
	count := float64(len(idx.nodes))
	for i := range idx.centroid {
		idx.centroid[i] = float32((float64(idx.centroid[i])*(count-1) + float64(v[i])) / count)
	}
}

func (idx *Index) refreshEntryPoint() {
	if idx.centroid == nil {
		return
	}
	best := idx.entryPoint
	bestDist := math.Inf(1)
	if cur, ok := idx.nodes[best]; ok && !cur.tombstoned {
		bestDist = dist(idx.centroid, cur.vector)
	}
	for id, n := range idx.nodes {
		if n.tombstoned {
			continue
		}
		d := dist(idx.centroid, n.vector)
		if d < bestDist {
			bestDist = d
			best = id
		}
	}
	idx.entryPoint = best
}

func (idx *Index) vectorOf(id int64) []float32 {
	if n, ok := idx.nodes[id]; ok {
		return n.vector
	}
	return idx.centroid
}

// candWithDist pairs a node id with its (cached) distance to a query, used
// for both greedy search's frontier and RobustPrune's candidate set.
type candWithDist struct {
	id   int64
	d    float64
}

// greedySearch performs a beam search of width listSize from start, returning
// the visited candidate set sorted by ascending distance to q — this becomes
// the neighbor candidate pool for RobustPrune on insert, or the top-k source
// on Search.
func (idx *Index) greedySearch(q []float32, listSize int, start int64) []candWithDist {
	if _, ok := idx.nodes[start]; !ok {
		return nil
	}
	expanded := make(map[int64]struct{})
	result := []candWithDist{{id: start, d: dist(q, idx.vectorOf(start))}}

	for {
		sort.SliceStable(result, func(i, j int) bool {
			if result[i].d != result[j].d {
				return result[i].d < result[j].d
			}
			return result[i].id < result[j].id
		})

		var next candWithDist
		found := false
		for _, c := range result {
			if _, done := expanded[c.id]; !done {
				next = c
				found = true
				break
			}
		}
		if !found {
			break
		}
		expanded[next.id] = struct{}{}

		n := idx.nodes[next.id]
		for _, nb := range n.neighbors {
			if _, ok := expanded[nb]; ok {
				continue
			}
			if alreadyInResult(result, nb) {
				continue
			}
			nbNode := idx.nodes[nb]
			if nbNode == nil || nbNode.tombstoned {
				continue
			}
			result = append(result, candWithDist{id: nb, d: dist(q, nbNode.vector)})
		}

		sort.SliceStable(result, func(i, j int) bool {
			if result[i].d != result[j].d {
				return result[i].d < result[j].d
			}
			return result[i].id < result[j].id
		})
		if len(result) > listSize {
			result = result[:listSize]
		}
	}

	return result
}

func alreadyInResult(result []candWithDist, id int64) bool {
	for _, c := range result {
		if c.id == id {
			return true
		}
	}
	return false
}

func candidateIDs(cands []candWithDist) []int64 {
	ids := make([]int64, len(cands))
	for i, c := range cands {
		ids[i] = c.id
	}
	return ids
}

// robustPrune implements the Vamana RobustPrune procedure: greedily keep the
// closest remaining candidate, then drop any candidate dominated by it under
// the alpha slack, until R neighbors are kept or candidates run out.
func (idx *Index) robustPrune(p int64, candidates []int64) []int64 {
	pVec := idx.vectorOf(p)
	remaining := make([]candWithDist, 0, len(candidates))
	seen := map[int64]struct{}{p: {}}
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		n := idx.nodes[c]
		if n == nil || n.tombstoned {
			continue
		}
		remaining = append(remaining, candWithDist{id: c, d: dist(pVec, n.vector)})
	}

	result := make([]int64, 0, idx.params.R)
	for len(remaining) > 0 && len(result) < idx.params.R {
		sort.SliceStable(remaining, func(i, j int) bool {
			if remaining[i].d != remaining[j].d {
				return remaining[i].d < remaining[j].d
			}
			return remaining[i].id < remaining[j].id
		})
		best := remaining[0]
		result = append(result, best.id)
		bestVec := idx.vectorOf(best.id)

		kept := remaining[1:][:0]
		for _, c := range remaining[1:] {
			cVec := idx.vectorOf(c.id)
			if idx.params.Alpha*dist(bestVec, cVec) > dist(pVec, cVec) {
				kept = append(kept, c)
			}
		}
		remaining = kept
	}
	return result
}

// Search returns the k nearest live vectors to q by cosine similarity.
func (idx *Index) Search(q []float32, k int) ([]SearchResult, error) {
	if len(q) != idx.dim {
		return nil, ErrDimensionMismatch
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.nodes)-idx.tombstoneCount == 0 {
		return nil, nil
	}
	listSize := idx.params.L
	if listSize < k {
		listSize = k
	}
	candidates := idx.greedySearch(q, listSize, idx.entryPoint)

	out := make([]SearchResult, 0, k)
	for _, c := range candidates {
		if len(out) >= k {
			break
		}
		n := idx.nodes[c.id]
		if n == nil || n.tombstoned {
			continue
		}
		out = append(out, SearchResult{ID: c.id, Score: model.CosineSimilarity(q, n.vector)})
	}
	return out, nil
}

// Delete tombstones id; the node is skipped by search/insert but its slot
// (and any edges pointing at it) stay until Compact runs, matching the
// append-friendly graph-compaction pattern of DiskANN-family indexes.
func (idx *Index) Delete(id int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n, ok := idx.nodes[id]
	if !ok || n.tombstoned {
		return ErrTombstoned
	}
	n.tombstoned = true
	idx.tombstoneCount++
	if idx.entryPoint == id {
		idx.refreshEntryPoint()
	}
	return nil
}

// TombstoneFraction is the share of stored nodes that are tombstoned, used
// by the scheduler to decide when to compact.
func (idx *Index) TombstoneFraction() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.nodes) == 0 {
		return 0
	}
	return float64(idx.tombstoneCount) / float64(len(idx.nodes))
}

// Compact rebuilds the index from its live nodes only, dropping tombstones
// and any edges that pointed at them, then re-links each surviving node via
// a fresh RobustPrune pass so connectivity is not lost.
func (idx *Index) Compact() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.tombstoneCount == 0 {
		return
	}

	live := make(map[int64]*node, len(idx.nodes)-idx.tombstoneCount)
	for id, n := range idx.nodes {
		if !n.tombstoned {
			live[id] = n
		}
	}

	for _, n := range live {
		var kept []int64
		for _, nb := range n.neighbors {
			if _, ok := live[nb]; ok {
				kept = append(kept, nb)
			}
		}
		n.neighbors = kept
	}

	idx.nodes = live
	idx.tombstoneCount = 0

	for id := range live {
		if len(live[id].neighbors) == 0 {
			// Reconnect orphaned nodes by re-running insert's wiring logic
			// against whatever entry point remains.
			for other := range live {
				if other != id {
					idx.entryPoint = other
					break
				}
			}
			visited := idx.greedySearch(live[id].vector, idx.params.L, idx.entryPoint)
			live[id].neighbors = idx.robustPrune(id, candidateIDs(visited))
			for _, nb := range live[id].neighbors {
				idx.addBackEdge(nb, id)
			}
		}
	}
	idx.refreshEntryPoint()
}

// Stats reports index size for diagnostics.
type Stats struct {
	Live       int
	Tombstoned int
}

func (idx *Index) StatsSnapshot() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{Live: len(idx.nodes) - idx.tombstoneCount, Tombstoned: idx.tombstoneCount}
}
