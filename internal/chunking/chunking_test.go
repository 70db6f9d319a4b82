package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParagraphChunker_Ordinals(t *testing.T) {
	c := NewParagraphChunker(ParagraphOptions{MaxChars: 20})
	units, err := c.Chunk("alpha beta\n\ngamma delta\n\nepsilon zeta", DocumentMeta{})
	require.NoError(t, err)
	for i, u := range units {
		assert.Equal(t, i, u.Ordinal)
		assert.Equal(t, i, u.Metadata["chunk_index"])
	}
}

func TestSlidingWindowChunker_Overlap(t *testing.T) {
	c := NewSlidingWindowChunker(SlidingWindowOptions{WindowChars: 10, OverlapChars: 4})
	text := strings.Repeat("a", 25)
	units, err := c.Chunk(text, DocumentMeta{})
	require.NoError(t, err)
	require.True(t, len(units) >= 2)
	assert.Equal(t, 10, len(units[0].Text))
}

func TestRecursiveChunker_FitsSize(t *testing.T) {
	c := NewRecursiveChunker(RecursiveOptions{ChunkSize: 50})
	text := strings.Repeat("Aspirin is used to relieve pain. ", 10)
	units, err := c.Chunk(text, DocumentMeta{})
	require.NoError(t, err)
	for _, u := range units {
		assert.LessOrEqual(t, len(u.Text), 50+len(". "))
	}
}

func TestParentChildChunker_Invariant(t *testing.T) {
	c := NewParentChildChunker(ParentChildOptions{ParentChars: 200, ChildChars: 50})
	text := "A. First paragraph here. B. Second paragraph here."
	units, err := c.Chunk(text, DocumentMeta{})
	require.NoError(t, err)

	parents := map[string]Unit{}
	for _, u := range units {
		if child, _ := u.Metadata["child"].(bool); !child {
			if id, ok := u.Metadata["chunk_id"].(string); ok {
				parents[id] = u
			}
		}
	}
	require.NotEmpty(t, parents)
	for _, u := range units {
		if child, _ := u.Metadata["child"].(bool); child {
			parentID, _ := u.Metadata["parent_id"].(string)
			parent, ok := parents[parentID]
			require.True(t, ok, "child must reference an existing parent")
			assert.Contains(t, parent.Text, u.Text[:min(len(u.Text), 5)])
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestMarkdownChunker_HeadingPath(t *testing.T) {
	c := NewMarkdownChunker(MarkdownOptions{MaxLevel: 2, MaxChars: 1000})
	text := "# Title\n\nintro text\n\n## Section\n\nsection body"
	units, err := c.Chunk(text, DocumentMeta{})
	require.NoError(t, err)
	require.NotEmpty(t, units)
	found := false
	for _, u := range units {
		headings, _ := u.Metadata["headings"].(map[string]any)
		if headings["h2"] == "Section" {
			found = true
		}
	}
	assert.True(t, found)
}
