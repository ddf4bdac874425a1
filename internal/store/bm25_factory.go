package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// BM25Backend selects the ranked chunk-level lexical index C10's hybrid
// retriever fuses against the semantic candidates from C6 (distinct
// from C5's own simple title/body substring search).
type BM25Backend string

const (
	// BM25BackendSQLite ranks chunk text via SQLite FTS5 (default),
	// sharing structured.db's connection idiom and surviving the
	// engine's single-writer WAL mode.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve ranks chunk text via Bleve v2 over a BoltDB
	// segment store; kept for vaults that already have a bleve index on
	// disk, but BoltDB's exclusive file lock means only one process may
	// hold it open, unlike the SQLite backend.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25IndexWithBackend opens the chunk-text lexical index at basePath
// (no extension — the backend appends .db or .bleve) using the named
// backend ("sqlite" default, or "bleve"). An empty path builds an
// in-memory index, used by tests that don't need persistence.
func NewBM25IndexWithBackend(basePath string, config BM25Config, backend string) (BM25Index, error) {
	switch backend {
	case string(BM25BackendSQLite), "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteBM25Index(path, config)

	case string(BM25BackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveBM25Index(path, config)

	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend inspects dataDir's bm25.db/bm25.bleve to report which
// backend a previously-opened vault's lexical index was built with, so
// a data directory created under one backend doesn't silently open
// under the other after a config change.
func DetectBM25Backend(basePath string) BM25Backend {
	sqlitePath := basePath + ".db"
	if fileExists(sqlitePath) {
		return BM25BackendSQLite
	}

	blevePath := basePath + ".bleve"
	if dirExists(blevePath) {
		return BM25BackendBleve
	}

	return ""
}

// GetBM25IndexPath returns the lexical index's path under dataDir for
// the given backend (bm25.db or bm25.bleve).
func GetBM25IndexPath(dataDir string, backend string) string {
	basePath := filepath.Join(dataDir, "bm25")
	switch backend {
	case string(BM25BackendBleve):
		return basePath + ".bleve"
	default:
		return basePath + ".db"
	}
}

// fileExists checks if a file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
