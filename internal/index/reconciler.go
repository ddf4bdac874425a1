package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkm-agent/vaultd/internal/audit"
	vaulterrors "github.com/pkm-agent/vaultd/internal/errors"
	"github.com/pkm-agent/vaultd/internal/hash"
	"github.com/pkm-agent/vaultd/internal/note"
	"github.com/pkm-agent/vaultd/internal/scanner"
	"github.com/pkm-agent/vaultd/internal/store"
	"github.com/pkm-agent/vaultd/internal/watcher"
)

// maxNoteFileSize bounds how large a vault file the reconciler will read
// into memory before treating it as a permanent, skippable error.
const maxNoteFileSize = 25 * 1024 * 1024

// ReindexAll walks the vault, reindexes every changed note, and deletes
// notes whose file no longer exists. Running it twice with no filesystem
// changes between the two calls yields an all-zero Result.
func (r *Reconciler) ReindexAll(ctx context.Context) (*Result, error) {
	result := &Result{}

	ch, err := r.deps.Scanner.Scan(ctx, &scanner.ScanOptions{RootDir: r.deps.VaultRoot, Extension: ".md"})
	if err != nil {
		return nil, fmt.Errorf("index: scan vault: %w", err)
	}

	observed := make(map[string]struct{})
	for sr := range ch {
		if sr.Error != nil {
			result.recordError("", sr.Error)
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		observed[sr.File.RelPath] = struct{}{}
		changed, created, err := r.reindexPath(ctx, sr.File.RelPath)
		if err != nil {
			slog.Warn("index: reindex file failed", slog.String("rel_path", sr.File.RelPath), slog.Any("error", err))
			result.recordError(sr.File.RelPath, err)
			continue
		}
		switch {
		case created:
			result.Added++
		case changed:
			result.Updated++
		}
	}

	existing, err := r.deps.Notes.AllNotes(ctx, 0)
	if err != nil {
		return result, fmt.Errorf("index: list existing notes: %w", err)
	}
	for _, n := range existing {
		if _, ok := observed[n.RelPath]; ok {
			continue
		}
		if err := r.deleteNote(ctx, n); err != nil {
			slog.Warn("index: delete stale note failed", slog.String("rel_path", n.RelPath), slog.Any("error", err))
			result.recordError(n.RelPath, err)
			continue
		}
		result.Deleted++
	}

	return result, nil
}

// ApplyEvents drives incremental reconciliation from a batch of debounced
// watcher events. Events for distinct paths may, in principle, be
// reconciled independently; they are processed serially here because a
// single vault's event volume never justifies the complexity of a
// per-path worker pool.
func (r *Reconciler) ApplyEvents(ctx context.Context, events []watcher.FileEvent) *Result {
	result := &Result{}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := r.applyEvent(ctx, ev, result); err != nil {
			slog.Warn("index: apply event failed",
				slog.String("path", ev.Path), slog.String("op", ev.Operation.String()), slog.Any("error", err))
			result.recordError(ev.Path, err)
		}
	}
	return result
}

func (r *Reconciler) applyEvent(ctx context.Context, ev watcher.FileEvent, result *Result) error {
	if ev.IsDir {
		return nil
	}

	switch ev.Operation {
	case watcher.OpDelete:
		return r.deletePath(ctx, ev.Path, result)

	case watcher.OpRename:
		if ev.OldPath != "" {
			if err := r.deletePath(ctx, ev.OldPath, result); err != nil {
				return err
			}
		}
		return r.reindexAndCount(ctx, ev.Path, result)

	default: // OpCreate, OpModify
		return r.reindexAndCount(ctx, ev.Path, result)
	}
}

func (r *Reconciler) reindexAndCount(ctx context.Context, relPath string, result *Result) error {
	if !strings.HasSuffix(relPath, ".md") {
		return nil
	}
	changed, created, err := r.reindexPath(ctx, relPath)
	if err != nil {
		return err
	}
	switch {
	case created:
		result.Added++
	case changed:
		result.Updated++
	}
	return nil
}

func (r *Reconciler) deletePath(ctx context.Context, relPath string, result *Result) error {
	id := hash.NoteID(relPath)
	existing, err := r.deps.Notes.GetNote(ctx, id)
	if err != nil {
		return fmt.Errorf("index: look up note for delete: %w", err)
	}
	if existing == nil {
		return nil
	}
	if err := r.deleteNote(ctx, existing); err != nil {
		return err
	}
	result.Deleted++
	return nil
}

// reindexPath implements the single-file reconciliation logic shared by
// a full scan and an incremental apply: parse, hash, and — on a
// content-hash change — upsert_note, delete_by_note, chunk + embed,
// add_chunks, all as one logical pass over this note.
func (r *Reconciler) reindexPath(ctx context.Context, relPath string) (changed bool, created bool, err error) {
	absPath := filepath.Join(r.deps.VaultRoot, relPath)
	info, statErr := os.Stat(absPath)
	if statErr != nil {
		return false, false, vaulterrors.PermanentItemError(fmt.Sprintf("stat %s", relPath), statErr)
	}
	if info.Size() > maxNoteFileSize {
		return false, false, vaulterrors.PermanentItemError(fmt.Sprintf("%s exceeds max file size", relPath), nil)
	}

	raw, readErr := os.ReadFile(absPath)
	if readErr != nil {
		return false, false, vaulterrors.PermanentItemError(fmt.Sprintf("read %s", relPath), readErr)
	}

	noteID := hash.NoteID(relPath)
	parsed := note.Parse(relPath, strings.ToValidUTF8(string(raw), "�"))
	contentHash := hash.ContentHash(parsed.Body)

	existing, err := r.deps.Notes.GetNote(ctx, noteID)
	if err != nil {
		return false, false, fmt.Errorf("look up existing note: %w", err)
	}
	if existing != nil && existing.ContentHash == contentHash {
		return false, false, nil // unchanged, skip
	}

	now := time.Now().UTC()
	createdAt := now
	if existing != nil {
		createdAt = existing.CreatedAt
	}

	newNote := &store.Note{
		ID:          noteID,
		RelPath:     relPath,
		Title:       parsed.Title,
		Body:        parsed.Body,
		FrontMatter: parsed.FrontMatter,
		Tags:        parsed.Tags,
		ContentHash: contentHash,
		WordCount:   len(strings.Fields(parsed.Body)),
		CreatedAt:   createdAt,
		ModifiedAt:  now,
	}

	if err := r.upsertNoteAudited(ctx, existing, newNote); err != nil {
		return false, false, fmt.Errorf("upsert note: %w", err)
	}

	links := make([]*store.Link, 0, len(parsed.Links))
	for _, l := range parsed.Links {
		links = append(links, &store.Link{
			SourceNoteID: noteID,
			TargetSpec:   l.Target,
			Kind:         store.LinkKind(l.Kind),
			Line:         l.Line,
			Column:       l.Column,
			DisplayText:  l.DisplayText,
		})
	}
	if err := r.deps.Notes.ReplaceLinks(ctx, noteID, links); err != nil {
		return false, false, fmt.Errorf("replace links: %w", err)
	}

	if err := r.reindexChunks(ctx, newNote, parsed.Tags); err != nil {
		return false, false, fmt.Errorf("reindex chunks: %w", err)
	}

	return true, existing == nil, nil
}

func (r *Reconciler) upsertNoteAudited(ctx context.Context, existing *store.Note, newNote *store.Note) error {
	var before string
	if existing != nil {
		b, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		before = string(b)
	}
	after, err := json.Marshal(newNote)
	if err != nil {
		return err
	}

	if err := r.deps.Notes.UpsertNote(ctx, newNote); err != nil {
		return err
	}

	_, err = r.deps.Audit.Append(ctx, audit.Entry{
		Action:         audit.ActionUpsertNote,
		Target:         newNote.ID,
		SnapshotBefore: before,
		SnapshotAfter:  string(after),
		Reversible:     true,
	})
	return err
}

// reindexChunks deletes every chunk currently owned by note.ID and
// replaces it with a fresh set produced from note.Body, embedding each
// chunk through the configured Embedder. The delete and the add are
// each logged as their own audit entry, per the engine's one-entry-per-
// mutation discipline.
func (r *Reconciler) reindexChunks(ctx context.Context, n *store.Note, tags []string) error {
	oldIDs, err := r.chunkIDsForNote(n.ID)
	if err != nil {
		return fmt.Errorf("list existing chunk ids: %w", err)
	}
	if len(oldIDs) > 0 {
		if err := r.deleteChunksAudited(ctx, n.ID, oldIDs); err != nil {
			return fmt.Errorf("delete existing chunks: %w", err)
		}
	}

	chunks := r.deps.Chunker.Chunk(n.ID, n.Title, n.RelPath, tags, n.Body)
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := r.deps.Embed.EmbedBatch(ctx, texts)
	if err != nil {
		return vaulterrors.TransientItemError(fmt.Sprintf("embed chunks for %s", n.RelPath), err)
	}

	ids := make([]string, len(chunks))
	metas := make([]store.ChunkVecMeta, len(chunks))
	docs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		metas[i] = store.ChunkVecMeta{
			NoteID:       n.ID,
			RelPath:      n.RelPath,
			Title:        n.Title,
			Tags:         tags,
			SectionTitle: c.Metadata.SectionTitle,
		}
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
	}

	return r.addChunksAudited(ctx, n.ID, ids, texts, vectors, metas, docs)
}

func (r *Reconciler) addChunksAudited(ctx context.Context, noteID string, ids, contents []string, vectors [][]float32, metas []store.ChunkVecMeta, docs []*store.Document) error {
	if err := r.deps.Vectors.AddChunks(ctx, ids, vectors, metas); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}
	if err := r.deps.BM25.Index(ctx, docs); err != nil {
		return fmt.Errorf("index bm25 documents: %w", err)
	}

	snap := ChunkSnapshot{IDs: ids, Contents: contents, Metas: metas, Vectors: vectors}
	after, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = r.deps.Audit.Append(ctx, audit.Entry{
		Action:        audit.ActionAddChunks,
		Target:        noteID,
		SnapshotAfter: string(after),
		Reversible:    true,
	})
	return err
}

func (r *Reconciler) deleteChunksAudited(ctx context.Context, noteID string, ids []string) error {
	snap := ChunkSnapshot{IDs: ids, Contents: make([]string, len(ids))} // chunk text is not retained once superseded; see DESIGN.md
	before, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	if err := r.deps.Vectors.DeleteByNote(ctx, noteID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := r.deps.BM25.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete bm25 documents: %w", err)
	}

	_, err = r.deps.Audit.Append(ctx, audit.Entry{
		Action:         audit.ActionDeleteChunks,
		Target:         noteID,
		SnapshotBefore: string(before),
		Reversible:     false, // chunk text was not retained; see DeleteChunks rollback handler
	})
	return err
}

func (r *Reconciler) deleteNote(ctx context.Context, n *store.Note) error {
	oldIDs, err := r.chunkIDsForNote(n.ID)
	if err != nil {
		return fmt.Errorf("list chunk ids before delete: %w", err)
	}
	if len(oldIDs) > 0 {
		if err := r.deleteChunksAudited(ctx, n.ID, oldIDs); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
	}

	before, err := json.Marshal(n)
	if err != nil {
		return err
	}

	if err := r.deps.Notes.DeleteNote(ctx, n.ID); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}

	_, err = r.deps.Audit.Append(ctx, audit.Entry{
		Action:         audit.ActionDeleteNote,
		Target:         n.ID,
		SnapshotBefore: string(before),
		Reversible:     true,
	})
	return err
}

// chunkIDsForNote returns every chunk ID currently held by the vector
// store for noteID, relying on the {NoteId}_{index} composite ID
// convention (C1) rather than a second index of note-to-chunk
// membership: since NoteId is a fixed-length 16-hex digest, the prefix
// "{noteID}_" cannot be produced by any other note's chunk IDs.
func (r *Reconciler) chunkIDsForNote(noteID string) ([]string, error) {
	prefix := noteID + "_"
	var ids []string
	for _, id := range r.deps.Vectors.AllIDs() {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
