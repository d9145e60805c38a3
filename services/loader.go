package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"family-coach-platform/internal/logger"
	"family-coach-platform/models"
)

// DocumentLoader turns files on disk into SourceDocuments ready for
// ingestion. Two formats are supported: a .json file holding a complete
// SourceDocument (the normal handoff from the parsing collaborator), or
// a .pdf whose declared TOC arrives in a <name>.toc.json sidecar.
type DocumentLoader struct {
	maxFileBytes int64
}

func NewDocumentLoader() *DocumentLoader {
	return &DocumentLoader{maxFileBytes: 200 << 20}
}

// Load reads one document file by extension.
func (l *DocumentLoader) Load(path string) (*models.SourceDocument, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}
	if stat.Size() > l.maxFileBytes {
		return nil, fmt.Errorf("document %q too large for in-memory loading", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return l.loadJSON(path)
	case ".pdf":
		return l.loadPDF(path)
	default:
		return nil, fmt.Errorf("unsupported document format: %s", filepath.Ext(path))
	}
}

func (l *DocumentLoader) loadJSON(path string) (*models.SourceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	var doc models.SourceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document %q: %w", path, err)
	}
	if doc.Name == "" {
		doc.Name = baseName(path)
	}
	if len(doc.Pages) == 0 {
		return nil, fmt.Errorf("document %q has no pages", path)
	}
	return &doc, nil
}

// loadPDF extracts per-page text and pairs it with the TOC sidecar. Page
// text quality is scored; pages that look corrupted are kept but logged,
// since the chunker's normalization strips most extraction noise.
func (l *DocumentLoader) loadPDF(path string) (*models.SourceDocument, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %q: %w", path, err)
	}

	numPages := reader.NumPage()
	pages := make([]string, numPages)
	lowQuality := 0

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("failed to extract page text", "path", path, "page", i, "error", err)
			continue
		}
		pages[i-1] = text

		if textQuality(text) < 0.3 {
			lowQuality++
		}
	}

	if lowQuality > 0 {
		logger.Warn("PDF contains low-quality page extractions", "path", path, "pages", lowQuality)
	}

	toc, err := l.loadTOCSidecar(path)
	if err != nil {
		return nil, err
	}

	return &models.SourceDocument{
		Name:  baseName(path),
		Pages: pages,
		TOC:   toc,
	}, nil
}

// loadTOCSidecar reads <base>.toc.json next to the PDF. A missing sidecar
// is not an error here; the extractor treats an empty TOC as skip.
func (l *DocumentLoader) loadTOCSidecar(pdfPath string) ([]models.TocDecl, error) {
	sidecar := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + ".toc.json"

	data, err := os.ReadFile(sidecar)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read TOC sidecar: %w", err)
	}

	var toc []models.TocDecl
	if err := json.Unmarshal(data, &toc); err != nil {
		return nil, fmt.Errorf("failed to parse TOC sidecar %q: %w", sidecar, err)
	}
	return toc, nil
}

// textQuality scores extracted page text in [0,1]: the share of
// alphanumeric and printable characters minus a corruption penalty.
func textQuality(text string) float64 {
	text = strings.TrimSpace(text)
	if len(text) < 10 {
		return 0.1
	}

	var alphanumeric, printable, corrupted int
	for _, r := range text {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			alphanumeric++
			printable++
		case r == ' ' || r == '\n' || r == '\t':
			printable++
		case r == '�':
			corrupted++
		case r >= 32:
			printable++
		default:
			corrupted++
		}
	}

	total := len([]rune(text))
	score := float64(printable)/float64(total)*0.6 + float64(alphanumeric)/float64(total)*0.4
	score -= float64(corrupted) / float64(total) * 2.0

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
