package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func collect(t *testing.T, results <-chan ScanResult) []*FileInfo {
	t.Helper()
	var out []*FileInfo
	for r := range results {
		require.NoError(t, r.Error)
		out = append(out, r.File)
	}
	return out
}

func relPaths(infos []*FileInfo) []string {
	out := make([]string, len(infos))
	for i, fi := range infos {
		out[i] = fi.RelPath
	}
	return out
}

func TestScanner_Scan_FindsMarkdownOnly(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		"note.md":       "# Note\n",
		"folder/sub.md": "# Sub\n",
		"image.png":     "\x89PNG",
		"script.sh":     "#!/bin/sh\n",
	})

	s := New()
	results, err := s.Scan(context.Background(), &ScanOptions{RootDir: tmpDir})
	require.NoError(t, err)

	got := relPaths(collect(t, results))
	assert.ElementsMatch(t, []string{"note.md", "folder/sub.md"}, got)
}

func TestScanner_Scan_CustomExtension(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		"note.md":  "# Note\n",
		"note.txt": "plain text\n",
	})

	s := New()
	results, err := s.Scan(context.Background(), &ScanOptions{RootDir: tmpDir, Extension: ".txt"})
	require.NoError(t, err)

	got := relPaths(collect(t, results))
	assert.Equal(t, []string{"note.txt"}, got)
}

func TestScanner_Scan_ExcludesDefaultIgnoreDirs(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		"note.md":               "# Note\n",
		".git/config":           "[core]\n",
		".obsidian/workspace":   "{}\n",
		".pkm-agent/cache.db":   "x",
		"node_modules/pkg/a.md": "# A\n",
	})

	s := New()
	results, err := s.Scan(context.Background(), &ScanOptions{RootDir: tmpDir})
	require.NoError(t, err)

	got := relPaths(collect(t, results))
	assert.Equal(t, []string{"note.md"}, got)
}

func TestScanner_Scan_ExtraIgnoreDirsFromConstructor(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		"note.md":        "# Note\n",
		"archive/old.md": "# Old\n",
	})

	s := New("archive")
	results, err := s.Scan(context.Background(), &ScanOptions{RootDir: tmpDir})
	require.NoError(t, err)

	got := relPaths(collect(t, results))
	assert.Equal(t, []string{"note.md"}, got)
}

func TestScanner_Scan_IgnoreDirsFromOptions(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		"note.md":        "# Note\n",
		"templates/t.md": "# Template\n",
	})

	s := New()
	results, err := s.Scan(context.Background(), &ScanOptions{RootDir: tmpDir, IgnoreDirs: []string{"templates"}})
	require.NoError(t, err)

	got := relPaths(collect(t, results))
	assert.Equal(t, []string{"note.md"}, got)
}

func TestScanner_Scan_SkipsLargeFiles(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{"small.md": "# Small\n"})

	large := make([]byte, 1024)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "large.md"), large, 0o644))

	s := New()
	results, err := s.Scan(context.Background(), &ScanOptions{RootDir: tmpDir, MaxFileSize: 512})
	require.NoError(t, err)

	got := relPaths(collect(t, results))
	assert.Equal(t, []string{"small.md"}, got)
}

func TestScanner_Scan_ReturnsCorrectMetadata(t *testing.T) {
	tmpDir := t.TempDir()
	content := "# Hello\n\nBody text.\n"
	full := filepath.Join(tmpDir, "note.md")
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))

	stat, err := os.Stat(full)
	require.NoError(t, err)

	s := New()
	results, err := s.Scan(context.Background(), &ScanOptions{RootDir: tmpDir})
	require.NoError(t, err)

	infos := collect(t, results)
	require.Len(t, infos, 1)
	fi := infos[0]
	assert.Equal(t, "note.md", fi.RelPath)
	assert.Equal(t, full, fi.AbsPath)
	assert.Equal(t, stat.Size(), fi.Size)
	assert.WithinDuration(t, stat.ModTime(), fi.ModTime, time.Second)
}

func TestScanner_Scan_SkipsSymlinksByDefault(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "real.md"), []byte("# Real\n"), 0o644))

	err := os.Symlink(filepath.Join(tmpDir, "real.md"), filepath.Join(tmpDir, "link.md"))
	if err != nil {
		t.Skip("symlinks not supported on this platform")
	}

	s := New()
	results, scanErr := s.Scan(context.Background(), &ScanOptions{RootDir: tmpDir, FollowSymlinks: false})
	require.NoError(t, scanErr)

	got := relPaths(collect(t, results))
	assert.Equal(t, []string{"real.md"}, got)
}

func TestScanner_Scan_EmptyDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	s := New()
	results, err := s.Scan(context.Background(), &ScanOptions{RootDir: tmpDir})
	require.NoError(t, err)

	assert.Empty(t, collect(t, results))
}

func TestScanner_Scan_NonExistentDirectory(t *testing.T) {
	s := New()
	_, err := s.Scan(context.Background(), &ScanOptions{RootDir: "/nonexistent/path/that/does/not/exist"})
	require.Error(t, err)
}

func TestScanner_Scan_ContextCancellation(t *testing.T) {
	tmpDir := t.TempDir()
	for i := 0; i < 50; i++ {
		path := filepath.Join(tmpDir, "dir", "sub"+string(rune('a'+i%10)), "file.md")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("# Note\n"), 0o644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New()
	results, err := s.Scan(ctx, &ScanOptions{RootDir: tmpDir})
	require.NoError(t, err)

	count := 0
	for range results {
		count++
		if count >= 5 {
			cancel()
		}
	}

	assert.Less(t, count, 50)
}
