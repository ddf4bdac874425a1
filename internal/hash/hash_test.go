package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoteID_IsDeterministic(t *testing.T) {
	a := NoteID("notes/project/alpha.md")
	b := NoteID("notes/project/alpha.md")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestNoteID_DiffersByPath(t *testing.T) {
	a := NoteID("notes/alpha.md")
	b := NoteID("notes/beta.md")
	assert.NotEqual(t, a, b)
}

func TestNoteID_NormalizesPathSeparators(t *testing.T) {
	forward := NoteID("notes/project/alpha.md")
	backslash := NoteID(`notes\project\alpha.md`)
	assert.Equal(t, forward, backslash)
}

func TestNoteID_RenameProducesDifferentID(t *testing.T) {
	original := NoteID("notes/old-name.md")
	renamed := NoteID("notes/new-name.md")
	assert.NotEqual(t, original, renamed)
}

func TestContentHash_IsDeterministic(t *testing.T) {
	a := ContentHash("# Title\n\nBody text.")
	b := ContentHash("# Title\n\nBody text.")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestContentHash_DiffersByContent(t *testing.T) {
	a := ContentHash("version one")
	b := ContentHash("version two")
	assert.NotEqual(t, a, b)
}

func TestContentHash_EmptyBody(t *testing.T) {
	h := ContentHash("")
	assert.Len(t, h, 16)
}

func TestChunkID_Format(t *testing.T) {
	noteID := NoteID("notes/alpha.md")
	assert.Equal(t, noteID+"_0", ChunkID(noteID, 0))
	assert.Equal(t, noteID+"_3", ChunkID(noteID, 3))
}
