package vector

import (
	"container/heap"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"

	"github.com/keradb/keradb/dberr"
)

// MaxLayers bounds how many layers a graph may grow to.
const MaxLayers = 16

var errDimMismatch = errors.New("vector dimension mismatch")

func uitoa(id uint64) string { return strconv.FormatUint(id, 10) }

func atoui(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

// node is one HNSW graph vertex: a vector document augmented with its
// assigned layer and per-layer adjacency lists. neighbors[l] is the
// node's neighbor list in graph layer l.
type node struct {
	ID        uint64      `json:"id"`
	Vector    []float32   `json:"vector,omitempty"`
	Text      string      `json:"text,omitempty"`
	HasText   bool        `json:"has_text,omitempty"`
	Layer     int         `json:"layer"`
	Neighbors [][]uint64  `json:"neighbors"`
}

// Index is a per-collection HNSW graph for approximate nearest-neighbor
// search.
type Index struct {
	mu sync.RWMutex

	dimensions     int
	distance       Distance
	m              int
	efConstruction int
	efSearch       int
	lambda         float64

	nodes      map[uint64]*node
	entryPoint uint64
	hasEntry   bool
	maxLayer   int
	nextID     uint64
}

// NewIndex builds an empty graph from a vector collection config.
func NewIndex(cfg Config) *Index {
	m := cfg.M
	if m <= 0 {
		m = 16
	}
	efc := cfg.EfConstruction
	if efc <= 0 {
		efc = 200
	}
	efs := cfg.EfSearch
	if efs <= 0 {
		efs = 50
	}
	return &Index{
		dimensions:     cfg.Dimensions,
		distance:       cfg.Distance,
		m:              m,
		efConstruction: efc,
		efSearch:       efs,
		lambda:         1 / math.Log(float64(m)),
		nodes:          make(map[uint64]*node),
		nextID:         1,
	}
}

func (idx *Index) dist(a, b []float32) float64 {
	return Calculate(a, b, idx.distance)
}

// assignLayer samples a new node's layer via the standard HNSW
// exponential-decay distribution, clamped to MaxLayers-1.
func (idx *Index) assignLayer() int {
	u := rand.Float64()
	if u <= 0 {
		u = 1e-12
	}
	layer := int(math.Floor(-math.Log(u) * idx.lambda))
	if layer > MaxLayers-1 {
		layer = MaxLayers - 1
	}
	return layer
}

// Insert adds vector to the graph and returns its assigned id.
func (idx *Index) Insert(vector []float32, text string, hasText bool) (uint64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(vector) != idx.dimensions {
		return 0, dberr.New(dberr.KindSchema, "hnsw.insert", errDimMismatch)
	}

	id := idx.nextID
	idx.nextID++
	layer := idx.assignLayer()
	n := &node{ID: id, Vector: vector, Text: text, HasText: hasText, Layer: layer,
		Neighbors: make([][]uint64, layer+1)}
	idx.nodes[id] = n

	if len(idx.nodes) == 1 {
		idx.entryPoint = id
		idx.hasEntry = true
		idx.maxLayer = layer
		return id, nil
	}

	current := idx.entryPoint
	for l := idx.maxLayer; l > layer; l-- {
		current = idx.greedyBestNeighbor(current, vector, l)
	}

	start := layer
	if idx.maxLayer < start {
		start = idx.maxLayer
	}
	for l := start; l >= 0; l-- {
		candidates := idx.searchLayer(vector, current, idx.efConstruction, l)
		selected := takeClosest(candidates, idx.m)
		n.Neighbors[l] = idsOf(selected)
		for _, s := range selected {
			idx.addEdge(s.id, id, l)
			idx.pruneIfOverDegree(s.id, l)
		}
		if len(candidates) > 0 {
			current = candidates[0].id
		}
	}

	if layer > idx.maxLayer {
		idx.entryPoint = id
		idx.maxLayer = layer
	}
	return id, nil
}

// addEdge adds a directed neighbor edge id->to at layer l, growing the
// per-layer neighbor slice if needed, and de-duplicating.
func (idx *Index) addEdge(id, to uint64, l int) {
	n := idx.nodes[id]
	if n == nil {
		return
	}
	for len(n.Neighbors) <= l {
		n.Neighbors = append(n.Neighbors, nil)
	}
	for _, existing := range n.Neighbors[l] {
		if existing == to {
			return
		}
	}
	n.Neighbors[l] = append(n.Neighbors[l], to)
}

// pruneIfOverDegree re-ranks id's neighbor list at layer l by true
// distance and truncates to m whenever its degree exceeds 2m: a
// transient-2M/settled-M degree bound.
func (idx *Index) pruneIfOverDegree(id uint64, l int) {
	n := idx.nodes[id]
	if n == nil || l >= len(n.Neighbors) {
		return
	}
	if len(n.Neighbors[l]) <= 2*idx.m {
		return
	}
	type ranked struct {
		id   uint64
		dist float64
	}
	ranks := make([]ranked, 0, len(n.Neighbors[l]))
	for _, nb := range n.Neighbors[l] {
		other := idx.nodes[nb]
		if other == nil {
			continue
		}
		ranks = append(ranks, ranked{nb, idx.dist(n.Vector, other.Vector)})
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].dist < ranks[j].dist })
	if len(ranks) > idx.m {
		ranks = ranks[:idx.m]
	}
	out := make([]uint64, len(ranks))
	for i, r := range ranks {
		out[i] = r.id
	}
	n.Neighbors[l] = out
}

// greedyBestNeighbor returns the single closest neighbor of current
// (including current itself) to vector at layer l.
func (idx *Index) greedyBestNeighbor(current uint64, vector []float32, l int) uint64 {
	best := current
	bestDist := idx.dist(vector, idx.nodes[current].Vector)
	improved := true
	for improved {
		improved = false
		n := idx.nodes[best]
		if n == nil || l >= len(n.Neighbors) {
			break
		}
		for _, nb := range n.Neighbors[l] {
			other := idx.nodes[nb]
			if other == nil {
				continue
			}
			d := idx.dist(vector, other.Vector)
			if d < bestDist {
				bestDist = d
				best = nb
				improved = true
			}
		}
	}
	return best
}

// searchLayer runs the classical bounded beam search at layer l starting
// from entry, returning up to ef results sorted by ascending distance.
func (idx *Index) searchLayer(query []float32, entry uint64, ef int, l int) []item {
	visited := map[uint64]bool{entry: true}
	entryNode := idx.nodes[entry]
	if entryNode == nil {
		return nil
	}
	d0 := idx.dist(query, entryNode.Vector)

	candidates := &minHeap{{entry, d0}}
	results := &maxHeap{{entry, d0}}
	heap.Init(candidates)
	heap.Init(results)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(item)
		worst := (*results)[0].dist
		if c.dist > worst && results.Len() >= ef {
			break
		}
		n := idx.nodes[c.id]
		if n == nil || l >= len(n.Neighbors) {
			continue
		}
		for _, nb := range n.Neighbors[l] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			other := idx.nodes[nb]
			if other == nil {
				continue
			}
			d := idx.dist(query, other.Vector)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, item{nb, d})
				heap.Push(results, item{nb, d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]item, results.Len())
	copy(out, *results)
	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].id < out[j].id
	})
	return out
}

func takeClosest(items []item, n int) []item {
	if n < len(items) {
		return items[:n]
	}
	return items
}

func idsOf(items []item) []uint64 {
	out := make([]uint64, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

// Search returns the k nearest neighbors of query, ties broken by
// ascending id as a stable secondary sort key.
func (idx *Index) Search(query []float32, k int) ([]item, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(query) != idx.dimensions {
		return nil, dberr.New(dberr.KindSchema, "hnsw.search", errDimMismatch)
	}
	if !idx.hasEntry {
		return nil, nil
	}

	current := idx.entryPoint
	for l := idx.maxLayer; l > 0; l-- {
		current = idx.greedyBestNeighbor(current, query, l)
	}

	width := idx.efSearch
	if k > width {
		width = k
	}
	results := idx.searchLayer(query, current, width, 0)
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Get returns the stored vector/text for id (metadata is owned by the
// enclosing Collection, not the graph, so it is not returned here).
func (idx *Index) Get(id uint64) (vector []float32, text string, hasText bool, ok bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.nodes[id]
	if !ok {
		return nil, "", false, false
	}
	return n.Vector, n.Text, n.HasText, true
}

// Delete removes id and every inbound edge referencing it. If id was the
// entry point, an arbitrary surviving node is promoted without
// recomputing max_layer.
func (idx *Index) Delete(id uint64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.nodes[id]; !ok {
		return false
	}
	delete(idx.nodes, id)

	for _, n := range idx.nodes {
		for l := range n.Neighbors {
			n.Neighbors[l] = removeID(n.Neighbors[l], id)
		}
	}

	if idx.hasEntry && idx.entryPoint == id {
		idx.hasEntry = false
		for survivor := range idx.nodes {
			idx.entryPoint = survivor
			idx.hasEntry = true
			break
		}
		if !idx.hasEntry {
			idx.maxLayer = 0
		}
	}
	return true
}

func removeID(ids []uint64, target uint64) []uint64 {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the number of nodes in the graph.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// serializedIndex is the JSON-dumpable form of an Index: {config, nodes,
// entry_point, max_layer, next_id}. JSON is used rather than a binary
// codec since the node's payload is a sum type (vector or text).
type serializedIndex struct {
	Dimensions     int              `json:"dimensions"`
	Distance       Distance         `json:"distance"`
	M              int              `json:"m"`
	EfConstruction int              `json:"ef_construction"`
	EfSearch       int              `json:"ef_search"`
	Nodes          map[string]*node `json:"nodes"`
	EntryPoint     uint64           `json:"entry_point"`
	HasEntry       bool             `json:"has_entry"`
	MaxLayer       int              `json:"max_layer"`
	NextID         uint64           `json:"next_id"`
}

// ToBytes serializes the graph to its JSON persistence form.
func (idx *Index) ToBytes() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s := serializedIndex{
		Dimensions: idx.dimensions, Distance: idx.distance, M: idx.m,
		EfConstruction: idx.efConstruction, EfSearch: idx.efSearch,
		Nodes:      make(map[string]*node, len(idx.nodes)),
		EntryPoint: idx.entryPoint, HasEntry: idx.hasEntry,
		MaxLayer: idx.maxLayer, NextID: idx.nextID,
	}
	for id, n := range idx.nodes {
		s.Nodes[uitoa(id)] = n
	}
	return json.Marshal(s)
}

// IndexFromBytes reconstructs a graph previously serialized by ToBytes.
func IndexFromBytes(data []byte) (*Index, error) {
	var s serializedIndex
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, dberr.New(dberr.KindFormat, "hnsw.from_bytes", err)
	}
	idx := &Index{
		dimensions: s.Dimensions, distance: s.Distance, m: s.M,
		efConstruction: s.EfConstruction, efSearch: s.EfSearch,
		lambda: 1 / math.Log(float64(max(s.M, 2))),
		nodes:  make(map[uint64]*node, len(s.Nodes)),
		entryPoint: s.EntryPoint, hasEntry: s.HasEntry,
		maxLayer: s.MaxLayer, nextID: s.NextID,
	}
	for key, n := range s.Nodes {
		id := atoui(key)
		idx.nodes[id] = n
	}
	return idx, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
