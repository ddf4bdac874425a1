// Package store provides vector storage (HNSW), keyword search (BM25), and
// relational persistence (SQLite) for a markdown vault's notes, tags, links,
// and audit trail.
package store

import (
	"context"
	"fmt"
	"time"
)

// Note mirrors the engine's parsed view of a vault file once it has been
// assigned a stable identity and persisted.
type Note struct {
	ID          string            // 16-hex digest of the normalized rel_path
	RelPath     string            // relative to the vault root, forward slashes
	Title       string            // front matter title, first heading, or filename stem
	Body        string            // raw markdown body, front matter stripped
	FrontMatter map[string]any    // parsed YAML front matter
	Tags        []string          // union of front-matter and inline tags
	ContentHash string            // 16-hex digest of Body
	WordCount   int
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// Tag is reference-counted by the notes that carry it.
type Tag struct {
	Name       string
	UsageCount int
	Category   string // user, system, or auto
}

// LinkKind enumerates the syntaxes the note parser recognizes.
type LinkKind string

const (
	LinkKindWiki      LinkKind = "wiki"
	LinkKindWikiAlias LinkKind = "wiki_alias"
	LinkKindEmbed     LinkKind = "embed"
	LinkKindMarkdown  LinkKind = "markdown"
	LinkKindTag       LinkKind = "tag"
)

// LinkStatus is the Analyzer's classification of a Link's target.
type LinkStatus string

const (
	LinkStatusValid    LinkStatus = "valid"
	LinkStatusBroken   LinkStatus = "broken"
	LinkStatusAmbiguous LinkStatus = "ambiguous"
)

// Link is one outgoing reference from a note, owned by its source.
type Link struct {
	ID              int64
	SourceNoteID    string
	TargetSpec      string // the raw target text as written
	Kind            LinkKind
	Line            int
	Column          int
	DisplayText     string
	ResolvedTarget  string // NoteId, once resolved by the Analyzer
	Status          LinkStatus
}

// SearchHit is the shape returned by keyword_search and, after enrichment,
// by the hybrid retriever.
type SearchHit struct {
	NoteID  string
	RelPath string
	Title   string
	Score   float64
	Snippet string
}

// CurrentSchemaVersion is the current structured-store schema version.
const CurrentSchemaVersion = 1

// NoteStore is the Structured Store's (C5) public surface: notes, tags,
// links, conversations/messages (opaque to the core, used only by an
// external chat collaborator), and keyword search.
type NoteStore interface {
	// UpsertNote inserts or replaces a note by rel_path, replacing its tag
	// associations in the same transaction.
	UpsertNote(ctx context.Context, note *Note) error
	GetNote(ctx context.Context, id string) (*Note, error)
	GetNoteByPath(ctx context.Context, relPath string) (*Note, error)
	AllNotes(ctx context.Context, limit int) ([]*Note, error)
	// DeleteNote cascades to tag ref-counts and links. Chunk/vector
	// cleanup is the caller's responsibility (Vector Store owns those).
	DeleteNote(ctx context.Context, id string) error

	// KeywordSearch performs a case-insensitive substring match against
	// (title, body), boosting title hits, returning a snippet window.
	KeywordSearch(ctx context.Context, query string, k int) ([]*SearchHit, error)

	// ReplaceLinks replaces all outgoing links for a note.
	ReplaceLinks(ctx context.Context, noteID string, links []*Link) error
	LinksFrom(ctx context.Context, noteID string) ([]*Link, error)
	LinksTo(ctx context.Context, noteID string) ([]*Link, error)
	AllLinks(ctx context.Context) ([]*Link, error)

	AllTags(ctx context.Context) ([]*Tag, error)

	// Conversation/message tables exist only for an external chat
	// collaborator; the core treats them opaquely.
	CreateConversation(ctx context.Context, id, title string) error
	AddMessage(ctx context.Context, conversationID, role, content string) (int64, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	Stats(ctx context.Context) (NoteStoreStats, error)

	Close() error
}

// Message is one turn of a conversation, persisted opaquely on behalf of an
// external chat collaborator.
type Message struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// NoteStoreStats summarizes the relational store for stats().
type NoteStoreStats struct {
	NoteCount int
	TagCount  int
	LinkCount int
}

// Document represents a chunk of text to be indexed for keyword search.
type Document struct {
	ID      string // Chunk ID
	Content string // Text content
}

// BM25Result represents a single keyword search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the keyword index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search over chunk text using the BM25 ranking
// function. This is the lexical half of the hybrid retriever (C10); it is
// distinct from NoteStore.KeywordSearch, which is the simpler title/body
// substring search the Structured Store exposes directly.
type BM25Index interface {
	// Index adds documents to the index
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query, scored by BM25
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents from index
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns all document IDs in the index (for consistency checks)
	AllIDs() ([]string, error)

	// Stats returns index statistics
	Stats() *IndexStats

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2)
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords contains common English stop words filtered from
// indexed note prose.
var DefaultStopWords = []string{
	"a", "an", "the", "and", "or", "but", "if", "then", "else",
	"is", "are", "was", "were", "be", "been", "being",
	"to", "of", "in", "on", "at", "by", "for", "with", "about",
	"this", "that", "these", "those", "it", "its",
	"i", "you", "he", "she", "we", "they",
}

// ChunkVecMeta is the metadata carried alongside a chunk's embedding in the
// Vector Store, used for filtering and result enrichment.
type ChunkVecMeta struct {
	NoteID       string
	RelPath      string
	Title        string
	Tags         []string
	SectionTitle string
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension.
	Dimensions int

	// Quantization is the vector precision: "f32", "f16", "i8" (default: "f16")
	Quantization string

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 32)
	M int

	// EfConstruction is HNSW build-time search width (default: 40)
	EfConstruction int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int

	// ExactThreshold is the vector count below which the store uses an
	// exact brute-force index instead of HNSW (default: 1000).
	ExactThreshold int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 40,
		EfSearch:       64,
		ExactThreshold: 1000,
	}
}

// VectorFilter is an equality/containment predicate applied to
// ChunkVecMeta during a filtered search.
type VectorFilter struct {
	NoteID       string
	RelPath      string
	Tag          string
	SectionTitle string
}

// Match reports whether meta satisfies every non-zero field of f.
func (f VectorFilter) Match(meta ChunkVecMeta) bool {
	if f.NoteID != "" && f.NoteID != meta.NoteID {
		return false
	}
	if f.RelPath != "" && f.RelPath != meta.RelPath {
		return false
	}
	if f.SectionTitle != "" && f.SectionTitle != meta.SectionTitle {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range meta.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// IsZero reports whether f has no constraints set.
func (f VectorFilter) IsZero() bool {
	return f.NoteID == "" && f.RelPath == "" && f.Tag == "" && f.SectionTitle == ""
}

// VectorStore provides semantic search over chunk embeddings, automatically
// switching between an exact brute-force index and HNSW based on
// collection size (one-way upgrade, see ChunkVectorStore).
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the store (for consistency checks)
	AllIDs() []string

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run a full reindex)", e.Expected, e.Got)
}
