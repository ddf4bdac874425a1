package integration

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkm-agent/vaultd/internal/config"
	"github.com/pkm-agent/vaultd/internal/search"
	"github.com/pkm-agent/vaultd/internal/store"
	"github.com/pkm-agent/vaultd/pkg/engine"
)

// Integration tests exercising the full flow from vault scan to
// reconciliation to hybrid search, through the public Engine facade.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// openTestEngine creates a vault under t.TempDir(), writes the given
// notes (rel_path -> markdown content), and opens an Engine against it.
func openTestEngine(t *testing.T, notes map[string]string) *engine.Engine {
	t.Helper()
	vaultRoot := t.TempDir()

	for relPath, content := range notes {
		abs := filepath.Join(vaultRoot, relPath)
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}

	cfg := config.NewConfig()
	cfg.VaultRoot = vaultRoot
	cfg.DataDir = filepath.Join(vaultRoot, ".pkm-agent")
	require.NoError(t, cfg.Validate())

	e, err := engine.Open(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestIntegration_IndexAndSearch_FindsResults(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	e := openTestEngine(t, map[string]string{
		"handler.md": "# HTTP Handler\n\nThe handleRequest function is the main HTTP handler for incoming requests.\n",
		"util.md":    "# Utilities\n\nformatMessage prepends a prefix to a string.\n",
	})

	ctx := context.Background()
	results, err := e.Search(ctx, "HTTP handler function", search.Options{K: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results, "search should find results")

	found := false
	for _, r := range results {
		if r.RelPath == "handler.md" {
			found = true
			break
		}
	}
	assert.True(t, found, "should find handler.md")
}

func TestIntegration_SearchAfterReindex_ExcludesDeletedNote(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	vaultRoot := t.TempDir()
	toDelete := filepath.Join(vaultRoot, "temp.md")
	require.NoError(t, os.WriteFile(toDelete, []byte("# Temp\n\nThis note about the HTTP handler will be deleted.\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(vaultRoot, "keep.md"), []byte("# Keep\n\nAn unrelated note about gardening.\n"), 0o644))

	cfg := config.NewConfig()
	cfg.VaultRoot = vaultRoot
	cfg.DataDir = filepath.Join(vaultRoot, ".pkm-agent")
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	e, err := engine.Open(ctx, cfg, testLogger())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, os.Remove(toDelete))
	_, err = e.Reindex(ctx, true)
	require.NoError(t, err)

	results, err := e.Search(ctx, "HTTP handler", search.Options{K: 10})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "temp.md", r.RelPath, "deleted note should not appear in results")
	}
}

func TestIntegration_EmptyVault_ReturnsNoResults(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	e := openTestEngine(t, nil)
	results, err := e.Search(context.Background(), "any query", search.Options{K: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TestIntegration_SearchWithTagFilter_NarrowsVectorCandidates checks
// that a tag filter is accepted and a query still resolves to the
// matching note; the filter only narrows the vector candidate list
// (see search.Options.Filter), so this does not assert the BM25-only
// side of a match is excluded.
func TestIntegration_SearchWithTagFilter_NarrowsVectorCandidates(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	e := openTestEngine(t, map[string]string{
		"go-note.md":   "---\ntags: [go]\n---\n\n# Go\n\nA function in Go is declared with func.\n",
		"rust-note.md": "---\ntags: [rust]\n---\n\n# Rust\n\nA function in Rust is declared with fn.\n",
	})

	ctx := context.Background()
	results, err := e.Search(ctx, "function", search.Options{K: 10, Filter: store.VectorFilter{Tag: "go"}})
	require.NoError(t, err)

	found := false
	for _, r := range results {
		if r.RelPath == "go-note.md" {
			found = true
			break
		}
	}
	assert.True(t, found, "should still find the tag-matching note")
}

func TestIntegration_ConcurrentSearches_NoRace(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	e := openTestEngine(t, map[string]string{
		"note.md": "# Note\n\nSome searchable prose about testing concurrency.\n",
	})

	ctx := context.Background()
	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(query string) {
			_, err := e.Search(ctx, query, search.Options{K: 5})
			done <- err
		}("test query " + string(rune('a'+i%26)))
	}
	for i := 0; i < 20; i++ {
		assert.NoError(t, <-done)
	}
}
