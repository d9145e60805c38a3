package services

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"family-coach-platform/internal/logger"
	"family-coach-platform/models"
)

// ExportService writes ingestion inventory reports as Excel workbooks so
// content editors can review what the retrieval index actually contains.
type ExportService struct {
	reportDir string
}

func NewExportService(reportDir string) *ExportService {
	return &ExportService{reportDir: reportDir}
}

// ExportIngestionReport writes one workbook per ingested document: a
// Sections sheet with the resolved TOC and a Passages sheet with every
// stored passage. Returns the written file path.
func (es *ExportService) ExportIngestionReport(doc string, entries []models.TocEntry, passages []models.Passage, stats *IngestStats) (string, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("error closing Excel file", "error", err)
		}
	}()

	if err := es.writeSectionsSheet(f, entries); err != nil {
		return "", err
	}
	if err := es.writePassagesSheet(f, passages); err != nil {
		return "", err
	}
	if err := es.writeSummarySheet(f, doc, stats); err != nil {
		return "", err
	}

	// Drop the default sheet created by excelize
	f.DeleteSheet("Sheet1")

	if err := os.MkdirAll(es.reportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	path := filepath.Join(es.reportDir, fmt.Sprintf("%s_ingestion_%s.xlsx", doc, time.Now().Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	logger.Info("ingestion report written", "path", path, "sections", len(entries), "passages", len(passages))
	return path, nil
}

// ExportPipelineRunReport writes one workbook per pipeline run: a row per
// stage with status, attempts, cache use, and timing. Returns the written
// file path.
func (es *ExportService) ExportPipelineRunReport(run *models.PipelineRun) (string, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("error closing Excel file", "error", err)
		}
	}()

	if err := es.writeStagesSheet(f, run); err != nil {
		return "", err
	}

	f.DeleteSheet("Sheet1")

	if err := os.MkdirAll(es.reportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	path := filepath.Join(es.reportDir, fmt.Sprintf("%s_run_%s.xlsx", run.ConversationID, time.Now().Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	logger.Info("pipeline run report written", "path", path, "conversation", run.ConversationID)
	return path, nil
}

func (es *ExportService) writeStagesSheet(f *excelize.File, run *models.PipelineRun) error {
	sheetName := "Stages"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"Stage", "Success", "Cached", "Attempt", "Execution Ms", "Error"}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	row := 2
	for _, stage := range []string{StageClean, StageAnalyze, StageQA, StageAdvise} {
		result, ok := run.StageResults[stage]
		if !ok {
			continue
		}
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), result.StageName)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), result.Success)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), result.Cached)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), result.Attempt)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), result.ExecutionTimeMs)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), result.Error)
		row++
	}

	f.SetCellValue(sheetName, fmt.Sprintf("A%d", row+1), "Run Status")
	f.SetCellValue(sheetName, fmt.Sprintf("B%d", row+1), run.Status)
	if run.Error != "" {
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row+2), "Run Error")
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row+2), run.Error)
	}

	for i := range headers {
		col := fmt.Sprintf("%c:%c", 'A'+i, 'A'+i)
		f.SetColWidth(sheetName, col, col, 18)
	}
	return nil
}

func (es *ExportService) writeSectionsSheet(f *excelize.File, entries []models.TocEntry) error {
	sheetName := "Sections"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"ID", "Level", "Title", "Start Page", "End Page", "Parent ID", "Excluded"}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	for rowIdx, entry := range entries {
		row := rowIdx + 2
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), entry.ID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), entry.Level)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), entry.Title)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), entry.StartPage)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), entry.EndPage)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), entry.ParentID)
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), entry.IsExcluded)
	}

	for i := range headers {
		col := fmt.Sprintf("%c:%c", 'A'+i, 'A'+i)
		f.SetColWidth(sheetName, col, col, 20)
	}
	return nil
}

func (es *ExportService) writePassagesSheet(f *excelize.File, passages []models.Passage) error {
	sheetName := "Passages"
	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	headers := []string{"Passage ID", "Section ID", "Chunk Index", "Chars", "Hierarchy Path", "Citation", "Text"}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	for rowIdx, p := range passages {
		row := rowIdx + 2
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), p.PassageID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), p.SectionID)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), p.ChunkIndex)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), len([]rune(p.Text)))
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), p.HierarchyPath)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), p.Citation)
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), p.Text)
	}

	for i := range headers {
		col := fmt.Sprintf("%c:%c", 'A'+i, 'A'+i)
		f.SetColWidth(sheetName, col, col, 18)
	}
	f.SetColWidth(sheetName, "G:G", "G:G", 80)
	return nil
}

func (es *ExportService) writeSummarySheet(f *excelize.File, doc string, stats *IngestStats) error {
	sheetName := "Summary"
	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	summaryData := [][]interface{}{
		{"Ingestion Report", ""},
		{"Source Document", doc},
		{"Report Date", time.Now().Format("2006-01-02 15:04:05")},
		{"", ""},
	}
	if stats != nil {
		summaryData = append(summaryData,
			[]interface{}{"TOC Entries", stats.TocEntries},
			[]interface{}{"Leaf Sections", stats.LeafSections},
			[]interface{}{"Passages Stored", stats.Passages},
			[]interface{}{"Empty Sections Skipped", stats.SkippedEmpty},
			[]interface{}{"Duration", stats.Duration.String()},
		)
	}

	for i, row := range summaryData {
		for j, cell := range row {
			cellRef := fmt.Sprintf("%c%d", 'A'+j, i+1)
			f.SetCellValue(sheetName, cellRef, cell)
		}
	}
	return nil
}
