package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pkm-agent/vaultd/internal/audit"
	"github.com/pkm-agent/vaultd/internal/link"
	"github.com/pkm-agent/vaultd/internal/note"
	"github.com/pkm-agent/vaultd/internal/scanner"
)

// ValidateLinks scans the vault fresh (rather than trusting
// potentially-stale persisted links) and classifies every link it
// finds using link.Analyze.
func (e *Engine) ValidateLinks(ctx context.Context) (*link.Result, error) {
	noteLinks, _, err := e.scanNoteLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: validate_links: %w", err)
	}
	return link.Analyze(e.cfg.VaultRoot, noteLinks), nil
}

// HealLinks validates the vault, then attempts to repair every broken
// link whose best fuzzy-match suggestion clears minConfidence
// (<= 0 uses link.DefaultMinConfidence). In dry-run mode nothing is
// written and no audit entry is produced; otherwise each rewritten file
// is one audit-journaled rewrite_file operation.
func (e *Engine) HealLinks(ctx context.Context, minConfidence float64, dryRun bool) ([]link.HealResult, error) {
	if minConfidence <= 0 {
		minConfidence = link.DefaultMinConfidence
	}

	noteLinks, relPaths, err := e.scanNoteLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: heal_links: %w", err)
	}

	nameMap := link.BuildNameMap(relPaths)
	analysis := link.Analyze(e.cfg.VaultRoot, noteLinks)
	groups := link.GroupBySource(analysis.Broken)

	var all []link.HealResult
	for _, src := range link.SortedSources(groups) {
		content, err := link.ReadFile(e.cfg.VaultRoot, src)
		if err != nil {
			e.log.Warn("engine: heal_links: read file failed", slog.String("rel_path", src), slog.Any("error", err))
			for _, bl := range groups[src] {
				all = append(all, link.HealResult{Link: bl, Outcome: link.OutcomeFailed, Error: err.Error()})
			}
			continue
		}

		results, newContent := link.HealFile(content, groups[src], nameMap, minConfidence)
		if dryRun {
			for i := range results {
				if results[i].Outcome == link.OutcomeFixed {
					results[i].Outcome = link.OutcomeSimulated
				}
			}
			all = append(all, results...)
			continue
		}

		all = append(all, results...)
		if newContent == content {
			continue
		}
		if err := link.WriteFile(e.cfg.VaultRoot, src, newContent); err != nil {
			return all, fmt.Errorf("engine: heal_links: write %s: %w", src, err)
		}
		if _, err := e.auditLog.Append(ctx, audit.Entry{
			Action:         audit.ActionRewriteFile,
			Target:         src,
			SnapshotBefore: content,
			SnapshotAfter:  newContent,
			Reversible:     true,
		}); err != nil {
			return all, fmt.Errorf("engine: heal_links: journal %s: %w", src, err)
		}
	}
	return all, nil
}

// scanNoteLinks walks the vault and reparses every note's links fresh
// from disk, returning both the per-note link lists the Analyzer
// expects and the flat rel_path list used to build its name map.
func (e *Engine) scanNoteLinks(ctx context.Context) ([]link.NoteLinks, []string, error) {
	ch, err := scanner.New().Scan(ctx, &scanner.ScanOptions{RootDir: e.cfg.VaultRoot, Extension: ".md"})
	if err != nil {
		return nil, nil, fmt.Errorf("scan vault: %w", err)
	}

	var noteLinks []link.NoteLinks
	var relPaths []string
	for sr := range ch {
		if sr.Error != nil {
			e.log.Warn("engine: scan_links: skipping file", slog.Any("error", sr.Error))
			continue
		}
		if err := ctx.Err(); err != nil {
			return noteLinks, relPaths, err
		}

		raw, err := os.ReadFile(sr.File.AbsPath)
		if err != nil {
			e.log.Warn("engine: scan_links: read failed", slog.String("rel_path", sr.File.RelPath), slog.Any("error", err))
			continue
		}
		parsed := note.Parse(sr.File.RelPath, strings.ToValidUTF8(string(raw), "�"))

		relPaths = append(relPaths, sr.File.RelPath)
		noteLinks = append(noteLinks, link.NoteLinks{RelPath: sr.File.RelPath, Links: parsed.Links})
	}
	return noteLinks, relPaths, nil
}
