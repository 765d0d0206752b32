// Package index provides nearest-name lookup over registered command names,
// used to suggest a command when a client asks about one that does not exist.
package index

import (
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/coder/hnsw"
)

// vectorDims is the width of the hashed bigram space.
const vectorDims = 64

// Indexer holds an HNSW graph of command names keyed by the name itself.
type Indexer struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[string]
}

// NewIndexer builds an index over names. Duplicate and empty names are skipped.
func NewIndexer(names []string) *Indexer {
	idx := &Indexer{graph: hnsw.NewGraph[string]()}
	idx.Add(names...)
	return idx
}

// Add inserts names that are not already indexed.
func (idx *Indexer) Add(names ...string) {
	var nodes []hnsw.Node[string]
	seen := make(map[string]bool, len(names))

	idx.mu.RLock()
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if _, exists := idx.graph.Lookup(name); exists {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(name, Embed(name)))
	}
	idx.mu.RUnlock()

	if len(nodes) == 0 {
		return
	}
	idx.mu.Lock()
	idx.graph.Add(nodes...)
	idx.mu.Unlock()
}

// Len returns the number of indexed names.
func (idx *Indexer) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.graph.Len()
}

// Suggest returns up to k indexed names closest to query, nearest first.
func (idx *Indexer) Suggest(query string, k int) []string {
	if k <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph.Len() == 0 {
		return nil
	}
	neighbors := idx.graph.Search(Embed(query), k)
	names := make([]string, len(neighbors))
	for i, n := range neighbors {
		names[i] = n.Key
	}
	return names
}

// Embed maps a command name to a unit vector of hashed character bigrams.
// The name is lower-cased and padded with '^' and '$' so that prefixes and
// suffixes carry weight and the vector is never zero.
func Embed(name string) []float32 {
	vec := make([]float32, vectorDims)
	runes := []rune("^" + strings.ToLower(name) + "$")
	for i := 0; i+1 < len(runes); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(runes[i : i+2])))
		vec[h.Sum32()%vectorDims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
