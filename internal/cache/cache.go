// Package cache implements the Cache Manager (C7): a two-tier in-memory
// LRU plus on-disk cache, partitioned into namespaces that each carry
// their own default TTL. It exists to short-circuit repeated embeddings
// and repeated retrieval calls, not as a general-purpose store.
package cache

import (
	"time"
)

// Namespace partitions the key space. Each namespace has its own TTL
// default and its own tier pair, so clearing or sizing one never
// disturbs another.
type Namespace string

const (
	// NamespaceQuery holds fused hybrid-search result sets, keyed by
	// (query, k, filters).
	NamespaceQuery Namespace = "query"
	// NamespaceEmbedding holds embedding vectors, keyed by
	// (model_identity, sha256(text)). Embeddings are deterministic modulo
	// model version, so this namespace has no default expiry.
	NamespaceEmbedding Namespace = "embedding"
	// NamespaceChunk holds chunk text bodies used to fill result
	// snippets without re-reading note files.
	NamespaceChunk Namespace = "chunk"
	// NamespaceRetrieval holds intermediate retriever artifacts (e.g.
	// candidate lists before fusion) shared across a single query.
	NamespaceRetrieval Namespace = "retrieval"
)

// namespaces enumerates every known namespace, used by Clear("") and Stats().
var namespaces = []Namespace{NamespaceQuery, NamespaceEmbedding, NamespaceChunk, NamespaceRetrieval}

// defaultTTL gives each namespace its own expiry policy absent an
// explicit ttl argument to Set. Zero means entries never expire.
var defaultTTL = map[Namespace]time.Duration{
	NamespaceQuery:     5 * time.Minute,
	NamespaceEmbedding: 0,
	NamespaceChunk:     time.Hour,
	NamespaceRetrieval: 5 * time.Minute,
}

// DefaultTTL returns the configured default TTL for ns, or zero (no
// expiry) if ns is not a recognized namespace.
func DefaultTTL(ns Namespace) time.Duration {
	return defaultTTL[ns]
}

// TierStats reports point-in-time counters for one cache tier.
type TierStats struct {
	Entries        int
	MaxEntries     int
	MemoryBytes    int64
	MaxMemoryBytes int64
	Hits           int64
	Misses         int64
}

// HitRate returns Hits / (Hits + Misses), or 0 when there have been no
// lookups yet.
func (t TierStats) HitRate() float64 {
	total := t.Hits + t.Misses
	if total == 0 {
		return 0
	}
	return float64(t.Hits) / float64(total)
}

// NamespaceStats is the per-namespace view returned by Manager.Stats.
type NamespaceStats struct {
	Namespace Namespace
	Memory    TierStats
	Disk      TierStats
}
