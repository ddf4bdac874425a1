// Package note parses a vault note's raw bytes into front matter, body,
// tags, and links. Parsing never fails the pipeline: malformed front
// matter degrades to an empty front matter with the whole file treated
// as body, and I/O errors are the caller's concern, not this package's.
package note

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// LinkKind identifies how a link was written in the source text.
type LinkKind string

const (
	KindWiki      LinkKind = "wiki"
	KindWikiAlias LinkKind = "wiki_alias"
	KindEmbed     LinkKind = "embed"
	KindMarkdown  LinkKind = "markdown"
	KindTag       LinkKind = "tag"
)

// Link is one reference found in a note's body, positioned by line and
// column so a healer can later rewrite it in place.
type Link struct {
	Kind        LinkKind
	Target      string
	DisplayText string
	Line        int
	Column      int
}

// Note is the parsed representation of one vault file.
type Note struct {
	Title       string
	Body        string
	FrontMatter map[string]any
	Tags        []string
	Links       []Link
}

var (
	frontMatterPattern = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)
	headingPattern     = regexp.MustCompile(`(?m)^#\s+(.+)$`)

	embedPattern    = regexp.MustCompile(`!\[\[([^\]]+)\]\]`)
	wikiPattern     = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
	markdownPattern = regexp.MustCompile(`\[([^\]]*)\]\(([^)]+)\)`)
	tagPattern      = regexp.MustCompile(`(?:^|\s)#([A-Za-z0-9_/-]+)`)
)

var externalSchemes = []string{"http://", "https://", "ftp://", "mailto:", "data:"}

// Parse decodes raw bytes (already UTF-8, replace-on-error per the
// caller) into a Note. relPath is used only to derive a fallback title
// from the filename stem.
func Parse(relPath string, raw string) *Note {
	frontMatter, body := splitFrontMatter(raw)

	n := &Note{
		Body:        body,
		FrontMatter: frontMatter,
	}

	n.Tags = collectFrontMatterTags(frontMatter)
	n.Links = extractLinks(body)
	for _, l := range n.Links {
		if l.Kind == KindTag {
			n.Tags = appendUnique(n.Tags, l.Target)
		}
	}

	n.Title = deriveTitle(frontMatter, body, relPath)

	return n
}

// splitFrontMatter extracts a leading `---`-delimited YAML block. If
// parsing fails, the whole input is treated as body and an empty front
// matter map is returned — the caller should log, not fail.
func splitFrontMatter(raw string) (map[string]any, string) {
	match := frontMatterPattern.FindStringSubmatchIndex(raw)
	if match == nil {
		return map[string]any{}, raw
	}

	block := raw[match[2]:match[3]]
	body := raw[match[1]:]

	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(block), &parsed); err != nil || parsed == nil {
		return map[string]any{}, raw
	}

	return normalizeFrontMatter(parsed), body
}

// normalizeFrontMatter converts date/datetime scalars to ISO-8601
// strings, leaving other values untouched.
func normalizeFrontMatter(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case time.Time:
			out[k] = t.Format(time.RFC3339)
		default:
			out[k] = v
		}
	}
	return out
}

// collectFrontMatterTags unions front-matter tags, accepting a scalar
// string, a comma-separated string, or a list of scalars.
func collectFrontMatterTags(frontMatter map[string]any) []string {
	raw, ok := frontMatter["tags"]
	if !ok {
		return nil
	}

	var tags []string
	switch v := raw.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if t := strings.TrimSpace(part); t != "" {
				tags = append(tags, t)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if t := strings.TrimSpace(s); t != "" {
					tags = append(tags, t)
				}
			}
		}
	}
	return tags
}

// extractLinks recognizes embeds, wiki links, markdown links, and tags
// in that precedence order, masking embeds before wiki matching so an
// embed is never double-counted as a plain wiki link.
func extractLinks(body string) []Link {
	var links []Link

	lines := strings.Split(body, "\n")
	for lineIdx, line := range lines {
		lineNum := lineIdx + 1

		embedSpans := make([][2]int, 0)
		for _, m := range embedPattern.FindAllStringSubmatchIndex(line, -1) {
			target, alias := splitAlias(line[m[2]:m[3]])
			links = append(links, Link{
				Kind:        KindEmbed,
				Target:      target,
				DisplayText: alias,
				Line:        lineNum,
				Column:      m[0],
			})
			embedSpans = append(embedSpans, [2]int{m[0], m[1]})
		}

		masked := maskSpans(line, embedSpans)

		for _, m := range wikiPattern.FindAllStringSubmatchIndex(masked, -1) {
			target, alias := splitAlias(line[m[2]:m[3]])
			kind := KindWiki
			if alias != "" {
				kind = KindWikiAlias
			}
			links = append(links, Link{
				Kind:        kind,
				Target:      target,
				DisplayText: alias,
				Line:        lineNum,
				Column:      m[0],
			})
		}

		for _, m := range markdownPattern.FindAllStringSubmatchIndex(line, -1) {
			display := line[m[2]:m[3]]
			target := line[m[4]:m[5]]
			if isExternal(target) {
				continue
			}
			links = append(links, Link{
				Kind:        KindMarkdown,
				Target:      target,
				DisplayText: display,
				Line:        lineNum,
				Column:      m[0],
			})
		}

		for _, m := range tagPattern.FindAllStringSubmatchIndex(line, -1) {
			links = append(links, Link{
				Kind:   KindTag,
				Target: line[m[2]:m[3]],
				Line:   lineNum,
				Column: m[2] - 1,
			})
		}
	}

	return links
}

// maskSpans replaces the given [start,end) byte ranges with spaces,
// preserving line length and other match offsets.
func maskSpans(line string, spans [][2]int) string {
	if len(spans) == 0 {
		return line
	}
	b := []byte(line)
	for _, s := range spans {
		for i := s[0]; i < s[1] && i < len(b); i++ {
			b[i] = ' '
		}
	}
	return string(b)
}

// splitAlias splits a `target|alias` wiki/embed body into its parts.
func splitAlias(raw string) (target, alias string) {
	parts := strings.SplitN(raw, "|", 2)
	target = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		alias = strings.TrimSpace(parts[1])
	}
	return target, alias
}

func isExternal(target string) bool {
	lower := strings.ToLower(target)
	for _, scheme := range externalSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}

// deriveTitle picks front-matter title, else the first top-level
// heading, else a title-cased version of the filename stem.
func deriveTitle(frontMatter map[string]any, body, relPath string) string {
	if raw, ok := frontMatter["title"]; ok {
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}

	if m := headingPattern.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}

	stem := strings.TrimSuffix(filepath.Base(relPath), filepath.Ext(relPath))
	stem = strings.ReplaceAll(stem, "-", " ")
	stem = strings.ReplaceAll(stem, "_", " ")
	return titleCase(stem)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 {
			r[0] = unicode.ToUpper(r[0])
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// String implements fmt.Stringer for debugging/logging.
func (n *Note) String() string {
	return fmt.Sprintf("Note{title=%q, tags=%d, links=%d}", n.Title, len(n.Tags), len(n.Links))
}
