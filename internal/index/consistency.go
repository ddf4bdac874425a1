package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Issue describes one detected inconsistency between the structured
// store, the BM25 index, and the vector store.
type Issue struct {
	Kind    IssueKind
	NoteID  string
	ChunkID string
	Detail  string
}

// IssueKind enumerates the cross-store invariants the checker verifies.
type IssueKind string

const (
	// IssueOrphanVector: a vector chunk's {noteID}_ prefix names no note
	// that exists in the structured store.
	IssueOrphanVector IssueKind = "orphan_vector"

	// IssueOrphanBM25Doc: a BM25 document's {noteID}_ prefix names no
	// note that exists in the structured store.
	IssueOrphanBM25Doc IssueKind = "orphan_bm25_doc"

	// IssueVectorBM25Mismatch: a chunk ID appears in exactly one of the
	// vector store and BM25 index, not both.
	IssueVectorBM25Mismatch IssueKind = "vector_bm25_mismatch"

	// IssueMalformedChunkID: a chunk ID does not follow the
	// {noteID}_{index} convention every writer in this package produces.
	IssueMalformedChunkID IssueKind = "malformed_chunk_id"
)

// Report summarizes a consistency pass.
type Report struct {
	NotesChecked  int
	VectorsChecked int
	BM25DocsChecked int
	Issues        []Issue
}

// CheckConsistency cross-references the structured store's note set
// against the chunk IDs held by the vector store and the BM25 index,
// per invariant: for every chunk vector or BM25 document, there exists
// a note owning it (I3 in the structured data model). It never mutates
// state; ReindexAll's own delete-stale-notes pass is what repairs
// drift, not this checker.
func (r *Reconciler) CheckConsistency(ctx context.Context) (*Report, error) {
	notes, err := r.deps.Notes.AllNotes(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("index: list notes for consistency check: %w", err)
	}
	noteIDs := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		noteIDs[n.ID] = struct{}{}
	}

	vecIDs := r.deps.Vectors.AllIDs()
	bm25IDs, err := r.deps.BM25.AllIDs()
	if err != nil {
		return nil, fmt.Errorf("index: list bm25 doc ids: %w", err)
	}

	report := &Report{
		NotesChecked:    len(notes),
		VectorsChecked:  len(vecIDs),
		BM25DocsChecked: len(bm25IDs),
	}

	vecSet := make(map[string]struct{}, len(vecIDs))
	for _, id := range vecIDs {
		vecSet[id] = struct{}{}
		owner, ok := noteOwner(id)
		if !ok {
			report.Issues = append(report.Issues, Issue{Kind: IssueMalformedChunkID, ChunkID: id})
			continue
		}
		if _, ok := noteIDs[owner]; !ok {
			report.Issues = append(report.Issues, Issue{Kind: IssueOrphanVector, NoteID: owner, ChunkID: id})
		}
	}

	bm25Set := make(map[string]struct{}, len(bm25IDs))
	for _, id := range bm25IDs {
		bm25Set[id] = struct{}{}
		owner, ok := noteOwner(id)
		if !ok {
			report.Issues = append(report.Issues, Issue{Kind: IssueMalformedChunkID, ChunkID: id})
			continue
		}
		if _, ok := noteIDs[owner]; !ok {
			report.Issues = append(report.Issues, Issue{Kind: IssueOrphanBM25Doc, NoteID: owner, ChunkID: id})
		}
	}

	for id := range vecSet {
		if _, ok := bm25Set[id]; !ok {
			report.Issues = append(report.Issues, Issue{Kind: IssueVectorBM25Mismatch, ChunkID: id, Detail: "present in vector store, absent from bm25 index"})
		}
	}
	for id := range bm25Set {
		if _, ok := vecSet[id]; !ok {
			report.Issues = append(report.Issues, Issue{Kind: IssueVectorBM25Mismatch, ChunkID: id, Detail: "present in bm25 index, absent from vector store"})
		}
	}

	sort.Slice(report.Issues, func(i, j int) bool {
		if report.Issues[i].Kind != report.Issues[j].Kind {
			return report.Issues[i].Kind < report.Issues[j].Kind
		}
		return report.Issues[i].ChunkID < report.Issues[j].ChunkID
	})

	return report, nil
}

// noteOwner extracts the NoteID prefix from a {noteID}_{index} chunk ID.
// NoteID is always a fixed-length 16-hex digest, so splitting on the
// last underscore is unambiguous even though hex digests cannot
// themselves contain one.
func noteOwner(chunkID string) (string, bool) {
	idx := strings.LastIndex(chunkID, "_")
	if idx <= 0 || idx == len(chunkID)-1 {
		return "", false
	}
	return chunkID[:idx], true
}
