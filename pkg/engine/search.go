package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkm-agent/vaultd/internal/search"
)

// Search runs a hybrid lexical+semantic query through the retriever.
func (e *Engine) Search(ctx context.Context, query string, k int, opts search.Options) ([]*search.Result, error) {
	opts.K = k
	return e.retriever.Search(ctx, query, opts)
}

// FindSimilar returns notes semantically similar to noteID, excluding
// the note itself.
func (e *Engine) FindSimilar(ctx context.Context, noteID string, k int) ([]*search.Result, error) {
	return e.retriever.FindSimilar(ctx, noteID, k)
}

// ContextForQuery runs retrieval and concatenates full note bodies in
// rank order, each preceded by a header block (title, path, tags),
// stopping before the next inclusion would exceed maxTokens*4
// characters (a rough 4-chars-per-token estimate).
func (e *Engine) ContextForQuery(ctx context.Context, query string, maxTokens int) (string, error) {
	results, err := e.retriever.Search(ctx, query, search.Options{K: e.cfg.Retriever.KDefault})
	if err != nil {
		return "", fmt.Errorf("engine: context_for_query: %w", err)
	}

	budget := maxTokens * 4
	var b strings.Builder
	seen := make(map[string]bool, len(results))

	for _, r := range results {
		if seen[r.NoteID] {
			continue
		}
		n, err := e.notes.GetNote(ctx, r.NoteID)
		if err != nil {
			return "", fmt.Errorf("engine: context_for_query: look up note %s: %w", r.NoteID, err)
		}
		if n == nil {
			continue
		}

		header := fmt.Sprintf("## %s\npath: %s\ntags: %s\n\n", n.Title, n.RelPath, strings.Join(n.Tags, ", "))
		block := header + n.Body + "\n\n"

		if b.Len() > 0 && b.Len()+len(block) > budget {
			break
		}
		if b.Len() == 0 && len(block) > budget {
			block = block[:budget]
		}

		b.WriteString(block)
		seen[r.NoteID] = true

		if b.Len() >= budget {
			break
		}
	}

	return strings.TrimSpace(b.String()), nil
}
