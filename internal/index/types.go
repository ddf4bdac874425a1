// Package index implements the Indexer / Reconciler (C9): the component
// that orchestrates the hasher, parser, chunker, and embedder under the
// audit log to keep the structured store, BM25 index, and vector store
// in agreement with the vault's files on disk.
package index

import (
	"github.com/pkm-agent/vaultd/internal/audit"
	"github.com/pkm-agent/vaultd/internal/chunk"
	"github.com/pkm-agent/vaultd/internal/embed"
	"github.com/pkm-agent/vaultd/internal/scanner"
	"github.com/pkm-agent/vaultd/internal/store"
)

// Deps bundles every component the Reconciler orchestrates. All fields
// are required.
type Deps struct {
	VaultRoot string

	Notes   store.NoteStore
	Vectors *store.ChunkVectorStore
	BM25    store.BM25Index
	Embed   embed.Embedder
	Audit   *audit.Log
	Scanner *scanner.Scanner
	Chunker *chunk.Chunker
}

// Result is the outcome of a full or incremental reconciliation pass.
type Result struct {
	Added   int
	Updated int
	Deleted int
	Errors  []FileError
}

// FileError pairs a relative path with the permanent error encountered
// while reconciling it. Collected, never fatal to the pass.
type FileError struct {
	RelPath string
	Err     error
}

func (r *Result) recordError(relPath string, err error) {
	r.Errors = append(r.Errors, FileError{RelPath: relPath, Err: err})
}

// ChunkSnapshot is the audit-log payload for add_chunks/delete_chunks
// entries: enough to replay the mutation in either direction without
// re-reading the vault or re-running the embedder.
type ChunkSnapshot struct {
	IDs      []string            `json:"ids"`
	Contents []string            `json:"contents"`
	Metas    []store.ChunkVecMeta `json:"metas"`
	Vectors  [][]float32         `json:"vectors"`
}

// Reconciler is the C9 orchestrator: reindex_all, single-path apply, and
// deletion, each committed under the audit log.
type Reconciler struct {
	deps Deps
}

// New creates a Reconciler over deps.
func New(deps Deps) *Reconciler {
	return &Reconciler{deps: deps}
}
