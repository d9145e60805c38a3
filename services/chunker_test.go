package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-coach-platform/models"
	"family-coach-platform/utils"
)

func TestChunkTextEmpty(t *testing.T) {
	c := NewChunker(600, 800)

	assert.Nil(t, c.ChunkText(""))
	assert.Nil(t, c.ChunkText("   \n\n  \t "))
}

func TestChunkTextShortSection(t *testing.T) {
	c := NewChunker(600, 800)

	out := c.ChunkText("A single short paragraph about bedtime routines.")
	require.Len(t, out, 1)
	assert.Equal(t, "A single short paragraph about bedtime routines.", out[0])
}

func TestChunkTextParagraphPacking(t *testing.T) {
	c := NewChunker(600, 800)

	para := strings.Repeat("a", 100)
	text := strings.Repeat(para+"\n\n", 20)

	out := c.ChunkText(text)
	require.Len(t, out, 3)

	for i, piece := range out {
		n := len([]rune(piece))
		assert.LessOrEqual(t, n, 800, "piece %d over ceiling", i)
		if i < len(out)-1 {
			assert.GreaterOrEqual(t, n, 600, "non-final piece %d under floor", i)
		}
	}
}

func TestChunkText1750CharSection(t *testing.T) {
	c := NewChunker(600, 800)

	// Three paragraphs, none oversized, 1,750 characters in total
	// including separators.
	p1 := strings.Repeat("a", 700)
	p2 := strings.Repeat("b", 700)
	p3 := strings.Repeat("c", 346)
	text := p1 + "\n\n" + p2 + "\n\n" + p3
	require.Equal(t, 1750, len(text))

	out := c.ChunkText(text)
	require.Len(t, out, 3)

	for i, piece := range out {
		n := len([]rune(piece))
		assert.LessOrEqual(t, n, 800, "piece %d over ceiling", i)
		if i < len(out)-1 {
			assert.GreaterOrEqual(t, n, 600, "non-final piece %d under floor", i)
		}
	}

	assert.Equal(t, text, strings.Join(out, "\n\n"), "concatenation must reproduce the original text")
}

func TestChunkTextLongParagraphSplitsOnSentences(t *testing.T) {
	c := NewChunker(600, 800)

	sentence := strings.Repeat("ab ", 22) + "end."
	text := strings.TrimSpace(strings.Repeat(sentence+" ", 25))

	out := c.ChunkText(text)
	require.Len(t, out, 3)

	for i, piece := range out {
		assert.LessOrEqual(t, len([]rune(piece)), 800, "piece %d over ceiling", i)
	}
	assert.GreaterOrEqual(t, len([]rune(out[0])), 600)
	assert.GreaterOrEqual(t, len([]rune(out[1])), 600)
}

func TestChunkTextCeilingIsAbsolute(t *testing.T) {
	c := NewChunker(600, 800)

	// No whitespace at all forces the hard-cut ladder
	text := strings.Repeat("x", 2000)

	out := c.ChunkText(text)
	require.Len(t, out, 3)
	for i, piece := range out {
		assert.LessOrEqual(t, len([]rune(piece)), 800, "piece %d over ceiling", i)
	}
}

func TestChunkTextRoundTrip(t *testing.T) {
	c := NewChunker(600, 800)

	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "Paragraph %d talks about listening, patience and naming feelings out loud. ", i)
		b.WriteString("It also mentions that repair after conflict matters more than avoiding it.\n\n")
	}
	text := b.String()

	out := c.ChunkText(text)
	require.NotEmpty(t, out)

	joined := utils.CollapseWhitespace(strings.Join(out, " "))
	want := utils.CollapseWhitespace(utils.NormalizeText(text))
	assert.Equal(t, want, joined, "chunking must not lose or reorder content")
}

func TestSplitParagraphsBreaksBeforeMarkers(t *testing.T) {
	c := NewChunker(600, 800)

	paras := c.splitParagraphs("Some text before. [KEY POINT] The key advice follows here.")
	require.Len(t, paras, 2)
	assert.Equal(t, "Some text before.", paras[0])
	assert.True(t, strings.HasPrefix(paras[1], "[KEY POINT]"))
}

func TestChunkSectionMetadata(t *testing.T) {
	c := NewChunker(600, 800)
	entry := models.TocEntry{
		ID:             "guide#003",
		Level:          2,
		Title:          "Active Listening",
		StartPage:      12,
		EndPage:        18,
		SourceDocument: "guide",
	}

	para := strings.Repeat("b", 100)
	text := strings.Repeat(para+"\n\n", 20)

	passages := c.ChunkSection(entry, "Part One > Active Listening", text)
	require.NotEmpty(t, passages)

	seen := make(map[string]bool)
	for i, p := range passages {
		assert.Equal(t, i, p.ChunkIndex, "chunk indices must be contiguous from zero")
		assert.Equal(t, "guide#003", p.SectionID)
		assert.Equal(t, "guide", p.SourceDocument)
		assert.Equal(t, 12, p.StartPage)
		assert.Equal(t, 18, p.EndPage)
		assert.Equal(t, "guide, Active Listening, pp. 12-18", p.Citation)
		assert.Equal(t, "Part One > Active Listening", p.HierarchyPath)
		assert.Equal(t, "[Part One > Active Listening] "+p.Text, p.EmbedText)

		assert.False(t, seen[p.PassageID], "passage IDs must be unique")
		seen[p.PassageID] = true
	}
}

func TestChunkSectionEmptyText(t *testing.T) {
	c := NewChunker(600, 800)
	entry := models.TocEntry{ID: "guide#001", SourceDocument: "guide"}

	assert.Nil(t, c.ChunkSection(entry, "Part One", ""))
}
