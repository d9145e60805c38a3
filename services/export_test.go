package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"family-coach-platform/models"
)

func TestExportIngestionReport(t *testing.T) {
	dir := t.TempDir()
	es := NewExportService(dir)

	entries := []models.TocEntry{
		{ID: "guide#000", Level: 1, Title: "Part One", StartPage: 1, EndPage: 10, SourceDocument: "guide"},
		{ID: "guide#001", Level: 2, Title: "Active Listening", StartPage: 2, EndPage: 5, ParentID: "guide#000", SourceDocument: "guide"},
	}
	passages := []models.Passage{
		{PassageID: "p1", SectionID: "guide#001", ChunkIndex: 0, Text: "First passage.", HierarchyPath: "Part One > Active Listening", Citation: "guide, Active Listening, pp. 2-5"},
		{PassageID: "p2", SectionID: "guide#001", ChunkIndex: 1, Text: "Second passage.", HierarchyPath: "Part One > Active Listening", Citation: "guide, Active Listening, pp. 2-5"},
	}
	stats := &IngestStats{
		SourceDocument: "guide",
		TocEntries:     2,
		LeafSections:   1,
		Passages:       2,
		Duration:       3 * time.Second,
	}

	path, err := es.ExportIngestionReport("guide", entries, passages, stats)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Sections", "Passages", "Summary"}, f.GetSheetList())

	title, err := f.GetCellValue("Sections", "C2")
	require.NoError(t, err)
	assert.Equal(t, "Part One", title)

	text, err := f.GetCellValue("Passages", "G3")
	require.NoError(t, err)
	assert.Equal(t, "Second passage.", text)
}

func TestExportPipelineRunReport(t *testing.T) {
	dir := t.TempDir()
	es := NewExportService(dir)

	run := &models.PipelineRun{
		ConversationID: "conv-1",
		Status:         "completed",
		StageResults: map[string]models.StageResult{
			StageClean:   {StageName: StageClean, Success: true, Attempt: 1, ExecutionTimeMs: 120},
			StageAnalyze: {StageName: StageAnalyze, Success: true, Attempt: 2, ExecutionTimeMs: 950},
			StageQA:      {StageName: StageQA, Success: true, Attempt: 1, Cached: true},
			StageAdvise:  {StageName: StageAdvise, Success: true, Attempt: 1, ExecutionTimeMs: 1400},
		},
	}

	path, err := es.ExportPipelineRunReport(run)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	// Rows follow stage execution order, not map order
	for i, want := range []string{StageClean, StageAnalyze, StageQA, StageAdvise} {
		got, err := f.GetCellValue("Stages", fmt.Sprintf("A%d", i+2))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	attempt, err := f.GetCellValue("Stages", "D3")
	require.NoError(t, err)
	assert.Equal(t, "2", attempt)
}
