package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-coach-platform/models"
)

func testExcludedTitles() []string {
	return []string{"table of contents", "index", "about the author", "foreword"}
}

func guideDocument() *models.SourceDocument {
	pages := make([]string, 20)
	for i := range pages {
		pages[i] = "page content"
	}
	return &models.SourceDocument{
		Name:  "guide",
		Pages: pages,
		TOC: []models.TocDecl{
			{Level: 1, Title: "Part One", StartPage: 1},
			{Level: 2, Title: "Chapter One", StartPage: 2},
			{Level: 2, Title: "Chapter Two", StartPage: 6},
			{Level: 1, Title: "Part Two", StartPage: 11},
			{Level: 2, Title: "Chapter Three", StartPage: 12},
		},
	}
}

func TestExtractPageRanges(t *testing.T) {
	e := NewTOCExtractor(testExcludedTitles())
	entries := e.Extract(guideDocument())
	require.Len(t, entries, 5)

	assert.Equal(t, 1, entries[0].StartPage)
	assert.Equal(t, 10, entries[0].EndPage) // closed by Part Two

	assert.Equal(t, 2, entries[1].StartPage)
	assert.Equal(t, 5, entries[1].EndPage) // closed by Chapter Two

	assert.Equal(t, 6, entries[2].StartPage)
	assert.Equal(t, 10, entries[2].EndPage) // closed by Part Two, not Chapter Three

	assert.Equal(t, 11, entries[3].StartPage)
	assert.Equal(t, 20, entries[3].EndPage) // last sibling runs to document end

	assert.Equal(t, 12, entries[4].StartPage)
	assert.Equal(t, 20, entries[4].EndPage)
}

func TestExtractParentLinks(t *testing.T) {
	e := NewTOCExtractor(testExcludedTitles())
	entries := e.Extract(guideDocument())
	require.Len(t, entries, 5)

	assert.Empty(t, entries[0].ParentID)
	assert.Equal(t, entries[0].ID, entries[1].ParentID)
	assert.Equal(t, entries[0].ID, entries[2].ParentID)
	assert.Empty(t, entries[3].ParentID)
	assert.Equal(t, entries[3].ID, entries[4].ParentID)
}

func TestExtractStableIDs(t *testing.T) {
	e := NewTOCExtractor(nil)

	first := e.Extract(guideDocument())
	second := e.Extract(guideDocument())
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "IDs must be stable across runs")
	}
}

func TestExtractInvertedRangeCollapses(t *testing.T) {
	e := NewTOCExtractor(nil)
	doc := &models.SourceDocument{
		Name:  "odd",
		Pages: make([]string, 20),
		TOC: []models.TocDecl{
			{Level: 1, Title: "Late Chapter", StartPage: 10},
			{Level: 1, Title: "Early Chapter", StartPage: 5},
		},
	}

	entries := e.Extract(doc)
	require.Len(t, entries, 2)

	// Declared out of order: the range inverts and collapses to zero width.
	assert.Equal(t, 10, entries[0].StartPage)
	assert.Equal(t, 10, entries[0].EndPage)
}

func TestExtractClampsToDocumentBounds(t *testing.T) {
	e := NewTOCExtractor(nil)
	doc := &models.SourceDocument{
		Name:  "short",
		Pages: make([]string, 8),
		TOC: []models.TocDecl{
			{Level: 1, Title: "Only Chapter", StartPage: 0},
		},
	}

	entries := e.Extract(doc)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].StartPage)
	assert.Equal(t, 8, entries[0].EndPage)
}

func TestExtractExclusion(t *testing.T) {
	e := NewTOCExtractor(testExcludedTitles())
	doc := &models.SourceDocument{
		Name:  "book",
		Pages: make([]string, 30),
		TOC: []models.TocDecl{
			{Level: 1, Title: "Table of Contents", StartPage: 1},
			{Level: 1, Title: "Foreword", StartPage: 2},
			{Level: 1, Title: "Part 1: Getting Started", StartPage: 4},
			{Level: 2, Title: "Chapter 1: First Steps", StartPage: 5},
			{Level: 1, Title: "Index", StartPage: 28},
		},
	}

	entries := e.Extract(doc)
	require.Len(t, entries, 5)

	assert.True(t, entries[0].IsExcluded)
	assert.True(t, entries[1].IsExcluded)
	assert.False(t, entries[2].IsExcluded, "enumeration prefix must not defeat matching")
	assert.False(t, entries[3].IsExcluded)
	assert.True(t, entries[4].IsExcluded)
}

func TestExtractEmptyTOC(t *testing.T) {
	e := NewTOCExtractor(testExcludedTitles())
	doc := &models.SourceDocument{Name: "bare", Pages: make([]string, 5)}

	assert.Empty(t, e.Extract(doc))
}

func TestLeafEntries(t *testing.T) {
	e := NewTOCExtractor(testExcludedTitles())
	entries := e.Extract(guideDocument())

	leaves := LeafEntries(entries)
	require.Len(t, leaves, 3)
	assert.Equal(t, "Chapter One", leaves[0].Title)
	assert.Equal(t, "Chapter Two", leaves[1].Title)
	assert.Equal(t, "Chapter Three", leaves[2].Title)
}

func TestLeafEntriesSkipsExcludedSubtrees(t *testing.T) {
	e := NewTOCExtractor([]string{"appendices"})
	doc := &models.SourceDocument{
		Name:  "book",
		Pages: make([]string, 30),
		TOC: []models.TocDecl{
			{Level: 1, Title: "Main Part", StartPage: 1},
			{Level: 2, Title: "Real Chapter", StartPage: 2},
			{Level: 1, Title: "Appendices", StartPage: 20},
			{Level: 2, Title: "Appendix Tables", StartPage: 21},
		},
	}

	leaves := LeafEntries(e.Extract(doc))
	require.Len(t, leaves, 1)
	assert.Equal(t, "Real Chapter", leaves[0].Title)
}

func TestHierarchyPath(t *testing.T) {
	e := NewTOCExtractor(nil)
	entries := e.Extract(guideDocument())

	assert.Equal(t, "Part One > Chapter Two", HierarchyPath(entries[2], entries))
	assert.Equal(t, "Part Two", HierarchyPath(entries[3], entries))
}

func TestSectionText(t *testing.T) {
	doc := &models.SourceDocument{
		Name:  "guide",
		Pages: []string{"one", "two", "", "four"},
	}
	entry := models.TocEntry{StartPage: 1, EndPage: 4}

	assert.Equal(t, "one\n\ntwo\n\nfour", SectionText(doc, entry))

	empty := models.TocEntry{StartPage: 3, EndPage: 3}
	assert.Equal(t, "", SectionText(doc, empty))
}
