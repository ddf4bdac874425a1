package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkm-agent/vaultd/internal/hash"
)

var (
	headerPattern    = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	codeBlockPattern = regexp.MustCompile("(?s)```.*?```")
	sentenceEnd      = regexp.MustCompile(`[.!?](?:\s+|$)`)
)

// placeholderFmt is bracketed by NUL bytes so the token can never
// collide with a sequence a note's own prose happens to contain.
const placeholderFmt = "\x00CODEBLOCK%d\x00"

// Chunker splits note bodies into Chunks according to Options.
type Chunker struct {
	opts Options
}

// New builds a Chunker, falling back to DefaultOptions for any field
// left unset.
func New(opts Options) *Chunker {
	return &Chunker{opts: opts.withDefaults()}
}

// section is one header-delimited span of a note's body. level 0
// means the span precedes any heading.
type section struct {
	level      int
	title      string
	breadcrumb string
	content    string
}

// Chunk splits body into Chunks carrying noteID, title, relPath, and
// tags as denormalized metadata. The result is a pure function of its
// arguments: the same note always produces the same chunks.
func (c *Chunker) Chunk(noteID, title, relPath string, tags []string, body string) []Chunk {
	if strings.TrimSpace(body) == "" {
		return nil
	}

	masked, blocks := maskCodeBlocks(body)
	sections := parseSections(masked)

	var chunks []Chunk
	index := 0
	for _, sec := range sections {
		for _, piece := range c.splitSection(sec.content) {
			content := unmaskCodeBlocks(piece, blocks)
			if sec.breadcrumb != "" {
				content = sec.breadcrumb + "\n\n" + content
			}
			chunks = append(chunks, Chunk{
				ID:      hash.ChunkID(noteID, index),
				NoteID:  noteID,
				Content: content,
				Index:   index,
				Metadata: Metadata{
					Title:        title,
					RelPath:      relPath,
					Tags:         tags,
					SectionTitle: sec.title,
					HeaderLevel:  sec.level,
				},
			})
			index++
		}
	}

	return mergeSmallTrailing(chunks, c.opts.SizeMin, c.opts.SizeMax)
}

// parseSections walks body line by line, starting a new section each
// time a heading is seen and tracking the breadcrumb (the chain of
// enclosing heading titles) via a per-level stack.
func parseSections(masked string) []*section {
	lines := strings.Split(masked, "\n")
	var sections []*section
	stack := make([]string, 7) // levels 1-6, index 0 unused

	var current *section
	var body strings.Builder

	flush := func() {
		if current == nil {
			return
		}
		current.content = strings.TrimSpace(body.String())
		if current.content != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range lines {
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			flush()

			level := len(m[1])
			title := strings.TrimSpace(m[2])
			stack[level] = title
			for i := level + 1; i <= 6; i++ {
				stack[i] = ""
			}

			var parts []string
			for i := 1; i <= level; i++ {
				if stack[i] != "" {
					parts = append(parts, stack[i])
				}
			}

			current = &section{level: level, title: title, breadcrumb: strings.Join(parts, " > ")}
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}

		if current == nil {
			current = &section{}
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return sections
}

// splitSection assembles masked section content into pieces bounded
// by SizeMax, targeting SizeTarget. Paragraphs are the unit of
// assembly; a paragraph that alone exceeds SizeMax is split further
// at sentence boundaries.
func (c *Chunker) splitSection(masked string) []string {
	paragraphs := splitParagraphs(masked)
	if len(paragraphs) == 0 {
		return nil
	}

	var pieces []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if current.Len() > 0 && current.Len()+len(para)+2 > c.opts.SizeMax {
			flush()
		}

		if len(para) > c.opts.SizeMax {
			flush()
			pieces = append(pieces, c.splitOversizedParagraph(para)...)
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)

		if current.Len() >= c.opts.SizeTarget {
			flush()
		}
	}
	flush()

	return pieces
}

// splitOversizedParagraph breaks a single paragraph too large for one
// chunk into sentence-bounded pieces. A sentence that alone exceeds
// SizeMax is still emitted whole rather than torn apart mid-word.
func (c *Chunker) splitOversizedParagraph(para string) []string {
	sentences := splitSentences(para)

	var pieces []string
	var current strings.Builder

	for _, s := range sentences {
		if current.Len() > 0 && current.Len()+len(s)+1 > c.opts.SizeMax {
			pieces = append(pieces, strings.TrimSpace(current.String()))
			current.Reset()
		}

		if len(s) > c.opts.SizeMax {
			if current.Len() > 0 {
				pieces = append(pieces, strings.TrimSpace(current.String()))
				current.Reset()
			}
			pieces = append(pieces, strings.TrimSpace(s))
			continue
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(s)
	}
	if current.Len() > 0 {
		pieces = append(pieces, strings.TrimSpace(current.String()))
	}

	return pieces
}

func splitParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}
	return paragraphs
}

func splitSentences(text string) []string {
	idxs := sentenceEnd.FindAllStringIndex(text, -1)
	if len(idxs) == 0 {
		return []string{text}
	}

	var sentences []string
	start := 0
	for _, m := range idxs {
		sentences = append(sentences, strings.TrimSpace(text[start:m[1]]))
		start = m[1]
	}
	if start < len(text) {
		sentences = append(sentences, strings.TrimSpace(text[start:]))
	}
	return sentences
}

// mergeSmallTrailing folds a too-small final chunk of each note into
// its predecessor when that would not cross sizeMax, then renumbers
// the index so it stays monotone and gap-free.
func mergeSmallTrailing(chunks []Chunk, sizeMin, sizeMax int) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}

	merged := make([]Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if len(merged) > 0 {
			prev := &merged[len(merged)-1]
			sameSection := prev.NoteID == ch.NoteID && prev.Metadata.SectionTitle == ch.Metadata.SectionTitle
			if sameSection && len(ch.Content) < sizeMin && len(prev.Content)+len(ch.Content)+2 <= sizeMax {
				prev.Content = prev.Content + "\n\n" + ch.Content
				continue
			}
		}
		merged = append(merged, ch)
	}

	for i := range merged {
		merged[i].Index = i
		merged[i].ID = hash.ChunkID(merged[i].NoteID, i)
	}

	return merged
}

func maskCodeBlocks(body string) (string, []string) {
	var blocks []string
	masked := codeBlockPattern.ReplaceAllStringFunc(body, func(m string) string {
		token := fmt.Sprintf(placeholderFmt, len(blocks))
		blocks = append(blocks, m)
		return token
	})
	return masked, blocks
}

func unmaskCodeBlocks(content string, blocks []string) string {
	for i, b := range blocks {
		content = strings.ReplaceAll(content, fmt.Sprintf(placeholderFmt, i), b)
	}
	return content
}
