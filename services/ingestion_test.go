package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-coach-platform/models"
)

func ingestionFixture() (*IngestionService, *MemoryVectorStore) {
	store := NewMemoryVectorStore()
	svc := NewIngestionService(
		NewTOCExtractor([]string{"table of contents", "index"}),
		NewChunker(600, 800),
		&fakeEmbedder{},
		store,
		nil,
		nil,
	)
	return svc, store
}

func ingestableDocument() *models.SourceDocument {
	long := strings.Repeat("The parent pauses before responding and names the feeling first. ", 30)
	pages := []string{
		"contents listing",
		long, long,
		long, long,
	}
	return &models.SourceDocument{
		Name:  "guide",
		Pages: pages,
		TOC: []models.TocDecl{
			{Level: 1, Title: "Table of Contents", StartPage: 1},
			{Level: 1, Title: "Part One", StartPage: 2},
			{Level: 2, Title: "Listening", StartPage: 2},
			{Level: 2, Title: "Repair", StartPage: 4},
		},
	}
}

func TestIngestStoresPassages(t *testing.T) {
	svc, store := ingestionFixture()

	stats, err := svc.Ingest(context.Background(), ingestableDocument())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.TocEntries)
	assert.Equal(t, 2, stats.LeafSections)
	assert.Equal(t, stats.Passages, store.Count())
	assert.Greater(t, stats.Passages, 0)

	hits, err := store.FindSimilar(context.Background(), []float32{1, 0}, 100, PassageFilter{})
	require.NoError(t, err)

	perSection := make(map[string][]int)
	for _, hit := range hits {
		assert.LessOrEqual(t, len([]rune(hit.Passage.Text)), 800)
		assert.True(t, strings.HasPrefix(hit.Passage.EmbedText, "["), "embed text must carry the breadcrumb")
		perSection[hit.Passage.SectionID] = append(perSection[hit.Passage.SectionID], hit.Passage.ChunkIndex)
	}
	assert.Len(t, perSection, 2, "only non-excluded leaves are ingested")
}

func TestIngestNoTOC(t *testing.T) {
	svc, store := ingestionFixture()

	doc := &models.SourceDocument{Name: "bare", Pages: []string{"text"}}
	_, err := svc.Ingest(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNoTOC)
	assert.Equal(t, 0, store.Count())
}

func TestIngestReplacesPreviousGeneration(t *testing.T) {
	svc, store := ingestionFixture()
	ctx := context.Background()

	_, err := svc.Ingest(ctx, ingestableDocument())
	require.NoError(t, err)
	firstCount := store.Count()

	stats, err := svc.Ingest(ctx, ingestableDocument())
	require.NoError(t, err)

	assert.Equal(t, firstCount, store.Count(), "re-ingestion must not accumulate stale passages")
	assert.Equal(t, firstCount, stats.Passages)
}

func TestIngestSkipsEmptySections(t *testing.T) {
	svc, store := ingestionFixture()

	doc := &models.SourceDocument{
		Name:  "sparse",
		Pages: []string{"", strings.Repeat("Useful guidance repeated for bulk. ", 30)},
		TOC: []models.TocDecl{
			{Level: 1, Title: "Blank Chapter", StartPage: 1},
			{Level: 1, Title: "Real Chapter", StartPage: 2},
		},
	}

	stats, err := svc.Ingest(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedEmpty)
	assert.Greater(t, store.Count(), 0)
}
