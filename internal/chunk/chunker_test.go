package chunk

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_HeaderBasedSplitting(t *testing.T) {
	c := New(DefaultOptions())
	body := "# Title\n\nIntro paragraph.\n\n## Section One\n\nContent for section one.\n\n## Section Two\n\nContent for section two.\n"

	chunks := c.Chunk("note1", "Title", "notes/a.md", nil, body)

	require.Len(t, chunks, 3)
	assert.Equal(t, 1, chunks[0].Metadata.HeaderLevel)
	assert.Equal(t, "Section One", chunks[1].Metadata.SectionTitle)
	assert.Contains(t, chunks[1].Content, "Content for section one.")
	assert.Equal(t, "Section Two", chunks[2].Metadata.SectionTitle)
}

func TestChunk_IndexIsMonotone(t *testing.T) {
	c := New(DefaultOptions())
	body := "# A\n\nfirst\n\n## B\n\nsecond\n\n## C\n\nthird\n"
	chunks := c.Chunk("note1", "A", "a.md", nil, body)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "note1_"+strconv.Itoa(i), ch.ID)
	}
}

func TestChunk_PreservesFencedCodeBlocks(t *testing.T) {
	c := New(DefaultOptions())
	body := "# Code\n\nHere is an example:\n\n```go\nfunc main() {\n\tprintln(\"hi\")\n}\n```\n\nTrailing text.\n"

	chunks := c.Chunk("note1", "Code", "a.md", nil, body)

	joined := strings.Join(chunksContent(chunks), "\n")
	assert.Contains(t, joined, "```go")
	assert.Contains(t, joined, "func main()")
	assert.Contains(t, joined, "```\n")
}

func TestChunk_BreadcrumbPrefixesNestedSection(t *testing.T) {
	c := New(DefaultOptions())
	body := "# Parent\n\nintro\n\n## Child\n\nnested content\n"

	chunks := c.Chunk("note1", "Parent", "a.md", nil, body)

	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[1].Content, "Parent > Child")
}

func TestChunk_NoHeadingsFallsBackToParagraphs(t *testing.T) {
	c := New(DefaultOptions())
	body := "Just a plain paragraph with no heading at all.\n\nAnd a second one.\n"

	chunks := c.Chunk("note1", "Untitled", "a.md", nil, body)

	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].Metadata.HeaderLevel)
}

func TestChunk_OversizedParagraphSplitsAtSentenceBoundaries(t *testing.T) {
	opts := Options{SizeTarget: 120, SizeMax: 200, SizeMin: 20}
	c := New(opts)

	sentence := "This is one sentence that repeats itself for testing purposes. "
	body := "# Big\n\n" + strings.Repeat(sentence, 10)

	chunks := c.Chunk("note1", "Big", "a.md", nil, body)

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Content), opts.SizeMax+len(sentence))
	}
}

func TestChunk_EmptyBodyProducesNoChunks(t *testing.T) {
	c := New(DefaultOptions())
	assert.Empty(t, c.Chunk("note1", "Empty", "a.md", nil, "   \n\n"))
}

func TestChunk_IsPure(t *testing.T) {
	c := New(DefaultOptions())
	body := "# Title\n\n## A\n\ncontent a\n\n## B\n\ncontent b\n"

	first := c.Chunk("note1", "Title", "a.md", []string{"x"}, body)
	second := c.Chunk("note1", "Title", "a.md", []string{"x"}, body)

	require.Len(t, first, len(second))
	for i := range first {
		assert.Equal(t, first[i].Content, second[i].Content)
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestChunk_MetadataCarriesNoteFields(t *testing.T) {
	c := New(DefaultOptions())
	body := "# T\n\nbody text\n"
	tags := []string{"alpha", "beta"}

	chunks := c.Chunk("note1", "T", "notes/t.md", tags, body)

	require.NotEmpty(t, chunks)
	assert.Equal(t, "T", chunks[0].Metadata.Title)
	assert.Equal(t, "notes/t.md", chunks[0].Metadata.RelPath)
	assert.ElementsMatch(t, tags, chunks[0].Metadata.Tags)
}

func chunksContent(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}
