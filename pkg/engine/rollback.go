package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkm-agent/vaultd/internal/audit"
	vaulterrors "github.com/pkm-agent/vaultd/internal/errors"
	"github.com/pkm-agent/vaultd/internal/index"
	"github.com/pkm-agent/vaultd/internal/store"
)

// registerRollbackHandlers wires one RollbackHandler per mutation kind
// C12 knows how to log, closing over e's stores so a handler can
// restore prior state without threading the engine through the audit
// package itself (the audit sink is a constructor dependency of the
// engine, not the other way around, per SPEC_FULL.md's "no global
// mutable audit callback" resolution).
func registerRollbackHandlers(reg audit.HandlerRegistry, e *Engine) {
	reg.Register(audit.ActionUpsertNote, e.rollbackUpsertNote)
	reg.Register(audit.ActionDeleteNote, e.rollbackDeleteNote)
	reg.Register(audit.ActionAddChunks, e.rollbackAddChunks)
	reg.Register(audit.ActionDeleteChunks, e.rollbackDeleteChunks)
	reg.Register(audit.ActionRewriteFile, e.rollbackRewriteFile)
}

// rollbackUpsertNote restores the note row to its pre-upsert state: if
// SnapshotBefore is empty the upsert created the note, so rollback
// deletes it; otherwise the prior Note is restored verbatim.
func (e *Engine) rollbackUpsertNote(ctx context.Context, log *audit.Log, entry *audit.Entry) error {
	if entry.SnapshotBefore == "" {
		if err := e.notes.DeleteNote(ctx, entry.Target); err != nil {
			return fmt.Errorf("rollback upsert_note: delete created note: %w", err)
		}
		_, err := log.Append(ctx, audit.Entry{
			Action: "rollback_" + audit.ActionUpsertNote, Target: entry.Target,
			SnapshotBefore: entry.SnapshotAfter, Reversible: false,
		})
		return err
	}

	var prior store.Note
	if err := json.Unmarshal([]byte(entry.SnapshotBefore), &prior); err != nil {
		return fmt.Errorf("rollback upsert_note: decode snapshot: %w", err)
	}
	if err := e.notes.UpsertNote(ctx, &prior); err != nil {
		return fmt.Errorf("rollback upsert_note: restore prior note: %w", err)
	}
	_, err := log.Append(ctx, audit.Entry{
		Action: "rollback_" + audit.ActionUpsertNote, Target: entry.Target,
		SnapshotBefore: entry.SnapshotAfter, SnapshotAfter: entry.SnapshotBefore, Reversible: false,
	})
	return err
}

// rollbackDeleteNote restores a deleted note from its snapshot. Its
// links and chunks are not restored (neither was retained at delete
// time); a subsequent reindex of the note's file, if it still exists
// on disk, will re-derive them.
func (e *Engine) rollbackDeleteNote(ctx context.Context, log *audit.Log, entry *audit.Entry) error {
	var prior store.Note
	if err := json.Unmarshal([]byte(entry.SnapshotBefore), &prior); err != nil {
		return fmt.Errorf("rollback delete_note: decode snapshot: %w", err)
	}
	if err := e.notes.UpsertNote(ctx, &prior); err != nil {
		return fmt.Errorf("rollback delete_note: restore note: %w", err)
	}
	_, err := log.Append(ctx, audit.Entry{
		Action: "rollback_" + audit.ActionDeleteNote, Target: entry.Target,
		SnapshotAfter: entry.SnapshotBefore, Reversible: false,
	})
	return err
}

// rollbackAddChunks undoes an add_chunks entry by deleting every chunk
// currently held for the target note. Because a note's old chunks are
// always deleted before its new ones are added (see Reconciler.
// reindexChunks), removing the note's current chunk set is exactly the
// inverse of the add this entry recorded, so long as no later reindex
// has superseded it — a case the handler cannot detect and does not
// attempt to guard against, matching the Structured Store's own
// "rollback restores prior state, callers re-reconcile if needed"
// contract.
func (e *Engine) rollbackAddChunks(ctx context.Context, log *audit.Log, entry *audit.Entry) error {
	if err := e.vectors.DeleteByNote(ctx, entry.Target); err != nil {
		return fmt.Errorf("rollback add_chunks: delete vectors: %w", err)
	}

	var snap index.ChunkSnapshot
	if entry.SnapshotAfter != "" {
		if err := json.Unmarshal([]byte(entry.SnapshotAfter), &snap); err == nil && len(snap.IDs) > 0 {
			if err := e.bm25.Delete(ctx, snap.IDs); err != nil {
				return fmt.Errorf("rollback add_chunks: delete bm25 documents: %w", err)
			}
		}
	}

	_, err := log.Append(ctx, audit.Entry{
		Action: "rollback_" + audit.ActionAddChunks, Target: entry.Target,
		SnapshotBefore: entry.SnapshotAfter, Reversible: false,
	})
	return err
}

// rollbackDeleteChunks would restore a deleted chunk's vectors and BM25
// postings, but delete_chunks entries never retain chunk text or
// vectors (see Reconciler.deleteChunksAudited) and are always logged
// Reversible=false, so Log.Rollback rejects them before this handler
// can run. It is registered anyway so every action in audit's constant
// list resolves to a handler, per package audit's documented contract.
func (e *Engine) rollbackDeleteChunks(ctx context.Context, log *audit.Log, entry *audit.Entry) error {
	return vaulterrors.CallerError("delete_chunks entries do not retain enough state to roll back", nil)
}

// rollbackRewriteFile restores a healer-rewritten vault file to its
// pre-rewrite byte content.
func (e *Engine) rollbackRewriteFile(ctx context.Context, log *audit.Log, entry *audit.Entry) error {
	absPath := filepath.Join(e.cfg.VaultRoot, entry.Target)
	if err := os.WriteFile(absPath, []byte(entry.SnapshotBefore), 0o644); err != nil {
		return fmt.Errorf("rollback rewrite_file: restore %s: %w", entry.Target, err)
	}
	_, err := log.Append(ctx, audit.Entry{
		Action: "rollback_" + audit.ActionRewriteFile, Target: entry.Target,
		SnapshotAfter: entry.SnapshotBefore, Reversible: false,
	})
	return err
}

// Rollback reverses the mutation recorded by opID via the registered
// handler for its action.
func (e *Engine) Rollback(ctx context.Context, opID string) error {
	return e.auditLog.Rollback(ctx, opID, e.registry)
}

// History returns recent audit entries, most recent first.
func (e *Engine) History(ctx context.Context, action, target string, limit int) ([]*audit.Entry, error) {
	return e.auditLog.History(ctx, action, target, limit)
}
