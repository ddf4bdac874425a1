package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore is the VectorStore backend ChunkVectorStore promotes a vault
// into once its chunk count crosses VectorStoreConfig.ExactThreshold,
// built on coder/hnsw's pure-Go graph (no CGO, unlike the C/C++ ANN
// libraries this lineage evaluated and rejected for vaultd's single
// static binary).
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	// chunk_id <-> internal graph key; coder/hnsw only accepts uint64
	// keys, so chunk IDs (NoteId_index strings) are mapped through this
	// pair of tables rather than hashed into the key space directly.
	idMap   map[string]uint64 // chunk ID -> internal key
	keyMap  map[uint64]string // internal key -> chunk ID
	nextKey uint64

	closed bool
}

// hnswMetadata is the gob-encoded sidecar persisting the chunk ID
// mapping alongside the graph file, since coder/hnsw's own Export/Import
// only round-trips the graph structure.
type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

// NewHNSWStore builds an empty HNSW-backed store for cfg's dimensionality
// and metric; callers load a persisted graph with Load afterward.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()

	switch cfg.Metric {
	case "cos":
		graph.Distance = hnsw.CosineDistance
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}

	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // 1/ln(M), coder/hnsw's recommended level-generation factor

	return &HNSWStore{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		nextKey: 0,
	}, nil
}

// Add inserts chunk vectors keyed by chunk ID. A chunk ID already present
// is replaced: its old graph key is orphaned (lazy deletion, see Delete)
// and a fresh key is assigned, rather than mutating the existing node.
func (s *HNSWStore) Add(ctx context.Context, chunkIDs []string, vectors [][]float32) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("chunk ids and vectors length mismatch: %d vs %d", len(chunkIDs), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{
				Expected: s.config.Dimensions,
				Got:      len(v),
			}
		}
	}

	for i, chunkID := range chunkIDs {
		// Lazy replace: coder/hnsw's Delete breaks the graph when the
		// removed node is the last one added, so a re-add orphans the
		// prior key instead of calling graph.Delete.
		if existingKey, exists := s.idMap[chunkID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, chunkID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		node := hnsw.MakeNode(key, vec)
		s.graph.Add(node)

		s.idMap[chunkID] = key
		s.keyMap[key] = chunkID
	}

	return nil
}

// Search returns the k nearest chunk vectors to query by the store's
// configured metric.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      len(query),
		}
	}

	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalizedQuery)
	}

	nodes := s.graph.Search(normalizedQuery, k)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		chunkID, exists := s.keyMap[node.Key]
		if !exists {
			// Orphaned (lazy-deleted) node; the graph hasn't forgotten
			// it yet but it no longer maps to a live chunk.
			continue
		}

		distance := s.graph.Distance(normalizedQuery, node.Value)
		score := distanceToScore(distance, s.config.Metric)

		results = append(results, &VectorResult{
			ID:       chunkID,
			Distance: distance,
			Score:    score,
		})
	}

	return results, nil
}

// Delete removes chunk vectors by ID via lazy deletion: the graph node
// stays in place (coder/hnsw can't cheaply remove it) but the ID mapping
// is dropped, so the node never surfaces in a Search result again.
func (s *HNSWStore) Delete(ctx context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, chunkID := range chunkIDs {
		if key, exists := s.idMap[chunkID]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, chunkID)
		}
	}

	return nil
}

// AllIDs returns every live chunk ID, used by the indexer's consistency
// checker to diff the vector store against the structured store's chunks.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether chunkID has a live vector.
func (s *HNSWStore) Contains(chunkID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	_, exists := s.idMap[chunkID]
	return exists
}

// Count returns the number of live (non-orphaned) chunk vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	return len(s.idMap)
}

// HNSWStats reports live vs. orphaned graph nodes, used to decide when
// a Rebuild is worth the cost of compacting away lazy-deleted entries.
type HNSWStats struct {
	ValidIDs   int // live chunk vectors
	GraphNodes int // total nodes in the graph, including orphans
	Orphans    int // GraphNodes - ValidIDs
}

// Stats reports the store's live/orphan split.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return HNSWStats{}
	}

	validIDs := len(s.idMap)
	graphNodes := s.graph.Len()

	return HNSWStats{
		ValidIDs:   validIDs,
		GraphNodes: graphNodes,
		Orphans:    graphNodes - validIDs,
	}
}

// Save persists the graph and its chunk ID mapping to path and
// path+".meta" respectively, each written via temp-file-then-rename so a
// crash mid-write never leaves a truncated index on disk.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpIndexPath := path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	if err := os.Rename(tmpIndexPath, path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	metaPath := path + ".meta"
	if err := s.saveMetadata(metaPath); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	return nil
}

// saveMetadata gob-encodes the chunk ID mapping to path via the same
// temp-file-then-rename pattern as Save.
func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:   s.idMap,
		NextKey: s.nextKey,
		Config:  s.config,
	}

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Load restores a graph and its chunk ID mapping previously written by
// Save.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	metaPath := path + ".meta"
	if err := s.loadMetadata(metaPath); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw's Import wants an io.ByteReader.
	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	return nil
}

// loadMetadata restores the chunk ID mapping from path and rebuilds the
// reverse (key -> chunk ID) table from it.
func (s *HNSWStore) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata

	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.keyMap = make(map[uint64]string)
	s.nextKey = meta.NextKey
	s.config = meta.Config

	for chunkID, key := range s.idMap {
		s.keyMap[key] = chunkID
	}

	return nil
}

// Close releases the store. coder/hnsw's in-memory graph needs no
// explicit teardown; this only marks the store unusable.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.graph = nil

	return nil
}

// ReadHNSWStoreDimensions reads the embedding dimensionality recorded in
// an HNSW store's metadata sidecar without loading the graph itself,
// used at startup to detect a dimension change before a reindex touches
// the vault. vectorPath is the graph file's path (e.g. "vectors.hnsw"),
// not the ".meta" sidecar. Returns 0 if no store has been persisted yet.
func ReadHNSWStoreDimensions(vectorPath string) (int, error) {
	metaPath := vectorPath + ".meta"

	file, err := os.Open(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open hnsw metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close hnsw metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return 0, fmt.Errorf("failed to decode hnsw metadata: %w", err)
	}

	return meta.Config.Dimensions, nil
}

var _ VectorStore = (*HNSWStore)(nil)

// normalizeVectorInPlace scales v to unit length in place so the
// index's inner-product distance function reduces to cosine similarity,
// matching the L2-normalization ExactStore applies to its own inserts.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore maps a raw distance onto a [0,1] similarity score: for
// cosine distance (range 0-2) score = 1 - distance/2; for L2 (range
// 0-inf) score = 1/(1+distance).
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "cos":
		return 1.0 - distance/2.0
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
