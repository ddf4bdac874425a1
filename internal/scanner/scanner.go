package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Scanner discovers markdown notes in a vault directory.
type Scanner struct {
	ignoreDirs map[string]bool
}

// New creates a Scanner with the given extra ignored directory names,
// merged with the package's fixed default set.
func New(extraIgnoreDirs ...string) *Scanner {
	ignore := make(map[string]bool, len(defaultIgnoreDirs)+len(extraIgnoreDirs))
	for _, d := range defaultIgnoreDirs {
		ignore[d] = true
	}
	for _, d := range extraIgnoreDirs {
		ignore[d] = true
	}
	return &Scanner{ignoreDirs: ignore}
}

// Scan walks opts.RootDir and streams every matching file on the returned
// channel, which is closed when the walk completes.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	ext := opts.Extension
	if ext == "" {
		ext = ".md"
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	ignore := s.ignoreDirs
	for _, d := range opts.IgnoreDirs {
		if !ignore[d] {
			ignore = mergeIgnore(ignore, d)
		}
	}

	results := make(chan ScanResult, 64)
	go func() {
		defer close(results)
		s.walk(ctx, absRoot, ignore, ext, maxSize, opts.FollowSymlinks, results)
	}()
	return results, nil
}

func mergeIgnore(base map[string]bool, add string) map[string]bool {
	out := make(map[string]bool, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[add] = true
	return out
}

func (s *Scanner) walk(ctx context.Context, absRoot string, ignore map[string]bool, ext string, maxSize int64, followSymlinks bool, results chan<- ScanResult) {
	visitedDirs := make(map[string]bool)

	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil
		}

		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil || relPath == "." {
			return nil
		}

		if d.IsDir() {
			if ignore[d.Name()] {
				return filepath.SkipDir
			}
			if d.Type()&fs.ModeSymlink != 0 {
				if !followSymlinks {
					return filepath.SkipDir
				}
				resolved, statErr := os.Stat(path)
				if statErr != nil || !resolved.IsDir() {
					return filepath.SkipDir
				}
				key := resolved.ModTime().String() + resolved.Name()
				if visitedDirs[key] {
					return filepath.SkipDir // cycle
				}
				visitedDirs[key] = true
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !followSymlinks {
			return nil
		}

		if !strings.HasSuffix(relPath, ext) {
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		if info.Size() > maxSize {
			return nil
		}

		fileInfo := &FileInfo{
			RelPath: filepath.ToSlash(relPath),
			AbsPath: path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}

		select {
		case results <- ScanResult{File: fileInfo}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}
