package link

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkm-agent/vaultd/internal/note"
)

// DefaultMinConfidence is the Healer's suggestion acceptance threshold
// absent an explicit override.
const DefaultMinConfidence = 0.7

// Suggestion is a candidate repair for one broken link.
type Suggestion struct {
	Candidate  string // the name-map key the target was matched against
	Target     string // the resolved rel_path the candidate names
	Confidence float64
}

// SuggestFix scores every candidate key in nameMap against a broken
// link's target and returns the best match, if any clears
// minConfidence.
func SuggestFix(nameMap NameMap, brokenTarget string, minConfidence float64) (*Suggestion, bool) {
	targetLower := strings.ToLower(brokenTarget)

	var best string
	var bestScore float64
	for candidate := range nameMap {
		score := suggestionScore(targetLower, candidate)
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}

	if best == "" || bestScore < minConfidence {
		return nil, false
	}
	return &Suggestion{Candidate: best, Target: nameMap[best], Confidence: bestScore}, true
}

func suggestionScore(targetLower, candidate string) float64 {
	candidateLower := strings.ToLower(candidate)
	score := lcsRatio(targetLower, candidateLower)

	if strings.HasPrefix(candidateLower, targetLower) {
		score += 0.2
	}
	if strings.HasSuffix(candidateLower, targetLower) {
		score += 0.1
	}

	targetWords := wordSet(targetLower)
	candidateWords := wordSet(candidateLower)
	overlap := 0
	for w := range targetWords {
		if _, ok := candidateWords[w]; ok {
			overlap++
		}
	}
	if overlap > 0 {
		denom := len(targetWords)
		if denom == 0 {
			denom = 1
		}
		score += (float64(overlap) / float64(denom)) * 0.3
	}

	return score
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// lcsRatio is the longest-common-subsequence similarity of a and b:
// 2*|LCS(a,b)| / (len(a)+len(b)), 1.0 for two empty strings.
func lcsRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	lcs := lcsLength(a, b)
	return 2 * float64(lcs) / float64(len(a)+len(b))
}

func lcsLength(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n, m := len(ra), len(rb)
	if n == 0 || m == 0 {
		return 0
	}
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[m]
}

// Outcome is the result of attempting to heal one broken link.
type Outcome string

const (
	OutcomeFixed     Outcome = "fixed"
	OutcomeSimulated Outcome = "simulated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// HealResult reports what happened to one broken link.
type HealResult struct {
	Link       ClassifiedLink
	Outcome    Outcome
	Suggestion *Suggestion
	Error      string
}

// replacementPatterns returns the exact old/new text a fix must splice
// in for link's kind, or ok=false when the kind cannot be healed
// (a markdown link with no display text has no literal pattern the
// healer may safely rewrite).
func replacementPatterns(l ClassifiedLink, newTarget string) (oldPattern, newPattern string, ok bool) {
	switch l.Kind {
	case note.KindWiki, note.KindEmbed, note.KindWikiAlias:
		prefix := "[["
		if l.Kind == note.KindEmbed {
			prefix = "![["
		}
		if l.DisplayText != "" {
			return prefix + l.Target + "|" + l.DisplayText + "]]",
				prefix + newTarget + "|" + l.DisplayText + "]]", true
		}
		return prefix + l.Target + "]]", prefix + newTarget + "]]", true

	case note.KindMarkdown:
		if l.DisplayText == "" {
			return "", "", false
		}
		return "[" + l.DisplayText + "](" + l.Target + ")",
			"[" + l.DisplayText + "](" + newTarget + ")", true

	default:
		return "", "", false
	}
}

// HealFile attempts to fix every broken link in brokenLinks (which must
// all share the same Source) against content, returning one HealResult
// per link plus the rewritten content. content is returned unchanged
// when nothing could be fixed, and callers should compare against the
// input to decide whether a write (or audit entry) is warranted.
func HealFile(content string, brokenLinks []ClassifiedLink, nameMap NameMap, minConfidence float64) ([]HealResult, string) {
	lines := strings.Split(content, "\n")
	results := make([]HealResult, 0, len(brokenLinks))

	for _, bl := range brokenLinks {
		suggestion, ok := SuggestFix(nameMap, bl.Target, minConfidence)
		if !ok {
			results = append(results, HealResult{Link: bl, Outcome: OutcomeSkipped, Error: "no suitable fix suggestion found"})
			continue
		}

		if bl.Line < 1 || bl.Line > len(lines) {
			results = append(results, HealResult{
				Link: bl, Outcome: OutcomeFailed, Suggestion: suggestion,
				Error: fmt.Sprintf("line number %d out of range", bl.Line),
			})
			continue
		}

		oldPattern, newPattern, canHeal := replacementPatterns(bl, suggestion.Candidate)
		if !canHeal {
			results = append(results, HealResult{
				Link: bl, Outcome: OutcomeSkipped, Suggestion: suggestion,
				Error: fmt.Sprintf("unsupported link kind for healing: %s", bl.Kind),
			})
			continue
		}

		lineIdx := bl.Line - 1
		line := lines[lineIdx]
		end := bl.Column + len(oldPattern)
		if bl.Column < 0 || end > len(line) || line[bl.Column:end] != oldPattern {
			results = append(results, HealResult{
				Link: bl, Outcome: OutcomeFailed, Suggestion: suggestion,
				Error: "link pattern not found at recorded position (pattern drift)",
			})
			continue
		}

		lines[lineIdx] = line[:bl.Column] + newPattern + line[end:]
		results = append(results, HealResult{Link: bl, Outcome: OutcomeFixed, Suggestion: suggestion})
	}

	return results, strings.Join(lines, "\n")
}

// GroupBySource partitions broken links by their Source rel_path, used
// by the whole-vault healer to process one file write per note.
func GroupBySource(links []ClassifiedLink) map[string][]ClassifiedLink {
	groups := make(map[string][]ClassifiedLink)
	for _, l := range links {
		groups[l.Source] = append(groups[l.Source], l)
	}
	return groups
}

// SortedSources returns the keys of a GroupBySource map in a
// deterministic order, so a whole-vault heal pass has reproducible
// audit-entry ordering across runs.
func SortedSources(groups map[string][]ClassifiedLink) []string {
	sources := make([]string, 0, len(groups))
	for s := range groups {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

// ReadFile and WriteFile are thin, vault-root-relative helpers so
// callers needn't juggle filepath.Join everywhere. They make no
// attempt at atomicity beyond what os.WriteFile itself guarantees;
// durability of the resulting state is the Audit Log's job, not the
// Healer's.
func ReadFile(vaultRoot, relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(vaultRoot, relPath))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func WriteFile(vaultRoot, relPath, content string) error {
	return os.WriteFile(filepath.Join(vaultRoot, relPath), []byte(content), 0o644)
}
