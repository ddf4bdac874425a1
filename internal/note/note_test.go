package note

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FrontMatterAndBody(t *testing.T) {
	raw := "---\ntitle: My Note\ntags: [alpha, beta]\n---\n# My Note\n\nBody text.\n"
	n := Parse("notes/my-note.md", raw)

	assert.Equal(t, "My Note", n.Title)
	assert.Contains(t, n.Body, "Body text.")
	assert.ElementsMatch(t, []string{"alpha", "beta"}, n.Tags)
}

func TestParse_MalformedFrontMatterFallsBackToWholeBody(t *testing.T) {
	raw := "---\ntitle: [unterminated\nBody without closing fence.\n"
	n := Parse("notes/broken.md", raw)

	assert.Empty(t, n.FrontMatter)
	assert.Contains(t, n.Body, "Body without closing fence.")
}

func TestParse_TitleFallsBackToHeading(t *testing.T) {
	raw := "# Heading Title\n\nSome body.\n"
	n := Parse("notes/untitled.md", raw)
	assert.Equal(t, "Heading Title", n.Title)
}

func TestParse_TitleFallsBackToFilenameStem(t *testing.T) {
	raw := "Body with no heading or front matter.\n"
	n := Parse("notes/my-cool_note.md", raw)
	assert.Equal(t, "My Cool Note", n.Title)
}

func TestParse_FrontMatterTagsAcceptsCommaSeparatedString(t *testing.T) {
	raw := "---\ntags: one, two, three\n---\nBody.\n"
	n := Parse("notes/a.md", raw)
	assert.ElementsMatch(t, []string{"one", "two", "three"}, n.Tags)
}

func TestExtractLinks_EmbedMaskedBeforeWiki(t *testing.T) {
	raw := "See ![[Diagram.png]] and [[Other Note]].\n"
	n := Parse("notes/a.md", raw)

	require.Len(t, n.Links, 2)
	assert.Equal(t, KindEmbed, n.Links[0].Kind)
	assert.Equal(t, "Diagram.png", n.Links[0].Target)
	assert.Equal(t, KindWiki, n.Links[1].Kind)
	assert.Equal(t, "Other Note", n.Links[1].Target)
}

func TestExtractLinks_WikiAliasRecordsDisplayText(t *testing.T) {
	raw := "[[Target Note|shown text]]\n"
	n := Parse("notes/a.md", raw)

	require.Len(t, n.Links, 1)
	assert.Equal(t, KindWikiAlias, n.Links[0].Kind)
	assert.Equal(t, "Target Note", n.Links[0].Target)
	assert.Equal(t, "shown text", n.Links[0].DisplayText)
}

func TestExtractLinks_MarkdownLinkSkipsExternalURLs(t *testing.T) {
	raw := "[internal](other-note.md) and [external](https://example.com)\n"
	n := Parse("notes/a.md", raw)

	require.Len(t, n.Links, 1)
	assert.Equal(t, KindMarkdown, n.Links[0].Kind)
	assert.Equal(t, "other-note.md", n.Links[0].Target)
}

func TestExtractLinks_TagsAddedToNoteTags(t *testing.T) {
	raw := "Some text #project/alpha and more #todo.\n"
	n := Parse("notes/a.md", raw)

	assert.Contains(t, n.Tags, "project/alpha")
	assert.Contains(t, n.Tags, "todo")
}

func TestExtractLinks_LineAndColumnArePopulated(t *testing.T) {
	raw := "line one\n[[Second Line Link]]\n"
	n := Parse("notes/a.md", raw)

	require.Len(t, n.Links, 1)
	assert.Equal(t, 2, n.Links[0].Line)
	assert.Equal(t, 0, n.Links[0].Column)
}

func TestParse_UnicodeTags(t *testing.T) {
	raw := "---\ntags: [日本語]\n---\nBody.\n"
	n := Parse("notes/a.md", raw)
	assert.Contains(t, n.Tags, "日本語")
}
