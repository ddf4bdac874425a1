package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pkm-agent/vaultd/internal/audit"
	"github.com/pkm-agent/vaultd/internal/chunk"
	"github.com/pkm-agent/vaultd/internal/embed"
	"github.com/pkm-agent/vaultd/internal/scanner"
	"github.com/pkm-agent/vaultd/internal/store"
	"github.com/pkm-agent/vaultd/internal/watcher"
)

func newTestReconciler(t *testing.T) (*Reconciler, string) {
	t.Helper()
	vaultRoot := t.TempDir()
	dataDir := t.TempDir()

	notes, err := store.NewSQLiteNoteStore(filepath.Join(dataDir, "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { notes.Close() })

	vectors, err := store.NewChunkVectorStore(dataDir, store.DefaultVectorStoreConfig(embed.StaticDimensions))
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(dataDir, "bm25"), store.DefaultBM25Config(), "sqlite")
	require.NoError(t, err)
	t.Cleanup(func() { bm25.Close() })

	auditLog, err := audit.Open(filepath.Join(dataDir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	embedder := embed.NewStaticEmbedder()

	deps := Deps{
		VaultRoot: vaultRoot,
		Notes:     notes,
		Vectors:   vectors,
		BM25:      bm25,
		Embed:     embedder,
		Audit:     auditLog,
		Scanner:   scanner.New(),
		Chunker:   chunk.New(chunk.DefaultOptions()),
	}
	return New(deps), vaultRoot
}

func writeNote(t *testing.T, vaultRoot, relPath, content string) {
	t.Helper()
	abs := filepath.Join(vaultRoot, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestReconciler_ReindexAll_AddsNewNotes(t *testing.T) {
	r, vaultRoot := newTestReconciler(t)
	writeNote(t, vaultRoot, "one.md", "# One\n\nFirst note body with enough words to form a chunk.\n")
	writeNote(t, vaultRoot, "two.md", "# Two\n\nSecond note body, also long enough to chunk cleanly.\n")

	ctx := context.Background()
	result, err := r.ReindexAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Added)
	require.Zero(t, result.Updated)
	require.Zero(t, result.Deleted)
	require.Empty(t, result.Errors)
}

func TestReconciler_ReindexAll_IsIdempotent(t *testing.T) {
	r, vaultRoot := newTestReconciler(t)
	writeNote(t, vaultRoot, "one.md", "# One\n\nStable content that never changes between passes.\n")

	ctx := context.Background()
	_, err := r.ReindexAll(ctx)
	require.NoError(t, err)

	result, err := r.ReindexAll(ctx)
	require.NoError(t, err)
	require.Zero(t, result.Added)
	require.Zero(t, result.Updated)
	require.Zero(t, result.Deleted)
}

func TestReconciler_ReindexAll_DetectsUpdate(t *testing.T) {
	r, vaultRoot := newTestReconciler(t)
	writeNote(t, vaultRoot, "one.md", "# One\n\nOriginal body text for the first revision.\n")

	ctx := context.Background()
	_, err := r.ReindexAll(ctx)
	require.NoError(t, err)

	writeNote(t, vaultRoot, "one.md", "# One\n\nCompletely rewritten body text for the second revision.\n")
	result, err := r.ReindexAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)
	require.Zero(t, result.Added)
}

func TestReconciler_ReindexAll_DetectsDeletion(t *testing.T) {
	r, vaultRoot := newTestReconciler(t)
	writeNote(t, vaultRoot, "one.md", "# One\n\nThis note will be deleted after the first pass.\n")

	ctx := context.Background()
	_, err := r.ReindexAll(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(vaultRoot, "one.md")))
	result, err := r.ReindexAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Deleted)

	report, err := r.CheckConsistency(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Issues)
}

func TestReconciler_ApplyEvents_CreateAndDelete(t *testing.T) {
	r, vaultRoot := newTestReconciler(t)
	writeNote(t, vaultRoot, "note.md", "# Note\n\nBody content long enough to chunk into the index.\n")

	ctx := context.Background()
	result := r.ApplyEvents(ctx, []watcher.FileEvent{
		{Path: "note.md", Operation: watcher.OpCreate},
	})
	require.Empty(t, result.Errors)
	require.Equal(t, 1, result.Added)

	require.NoError(t, os.Remove(filepath.Join(vaultRoot, "note.md")))
	result = r.ApplyEvents(ctx, []watcher.FileEvent{
		{Path: "note.md", Operation: watcher.OpDelete},
	})
	require.Empty(t, result.Errors)
	require.Equal(t, 1, result.Deleted)
}
