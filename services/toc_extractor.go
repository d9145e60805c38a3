package services

import (
	"fmt"
	"strings"

	"family-coach-platform/models"
	"family-coach-platform/utils"

	"family-coach-platform/internal/logger"
)

// TOCExtractor resolves a document's declared table of contents into
// ordered TocEntry records: stable identifiers, parent links, derived
// page ranges, and exclusion flags for boilerplate sections. The
// exclusion vocabulary is configuration so locale-specific front-matter
// terms stay out of the code.
type TOCExtractor struct {
	excludedTitles []string
}

// NewTOCExtractor creates an extractor with the given exclusion
// vocabulary (matched exactly or as a substring against normalized
// titles).
func NewTOCExtractor(excludedTitles []string) *TOCExtractor {
	normalized := make([]string, 0, len(excludedTitles))
	for _, t := range excludedTitles {
		if n := utils.NormalizeTitle(t); n != "" {
			normalized = append(normalized, n)
		}
	}
	return &TOCExtractor{excludedTitles: normalized}
}

// Extract produces the ordered entry list for a source document. A
// document with no declared TOC yields an empty list, not an error, so
// callers can skip it gracefully.
func (e *TOCExtractor) Extract(doc *models.SourceDocument) []models.TocEntry {
	if len(doc.TOC) == 0 {
		logger.Warn("document has no table of contents, skipping", "source", doc.Name)
		return nil
	}

	entries := make([]models.TocEntry, 0, len(doc.TOC))

	// Stack of indices into entries, tracking the current ancestor chain.
	var stack []int

	for i, decl := range doc.TOC {
		level := decl.Level
		if level < 1 {
			level = 1
		}

		for len(stack) > 0 && entries[stack[len(stack)-1]].Level >= level {
			stack = stack[:len(stack)-1]
		}

		parentID := ""
		if len(stack) > 0 {
			parentID = entries[stack[len(stack)-1]].ID
		}

		entry := models.TocEntry{
			ID:             fmt.Sprintf("%s#%03d", doc.Name, i),
			Level:          level,
			Title:          utils.CollapseWhitespace(decl.Title),
			StartPage:      decl.StartPage,
			SourceDocument: doc.Name,
			ParentID:       parentID,
			IsExcluded:     e.isExcluded(decl.Title),
		}

		entries = append(entries, entry)
		stack = append(stack, len(entries)-1)
	}

	e.closePageRanges(entries, doc.PageCount())

	return entries
}

// closePageRanges derives each entry's end page from the start page of
// the next entry at the same or a shallower level, clamped to document
// bounds. An inverted range collapses to zero width instead of failing.
func (e *TOCExtractor) closePageRanges(entries []models.TocEntry, pageCount int) {
	for i := range entries {
		end := pageCount
		for j := i + 1; j < len(entries); j++ {
			if entries[j].Level <= entries[i].Level {
				end = entries[j].StartPage - 1
				break
			}
		}

		if pageCount > 0 && end > pageCount {
			end = pageCount
		}
		if entries[i].StartPage < 1 {
			entries[i].StartPage = 1
		}
		if end < entries[i].StartPage {
			end = entries[i].StartPage
		}
		entries[i].EndPage = end
	}
}

func (e *TOCExtractor) isExcluded(title string) bool {
	normalized := utils.NormalizeTitle(title)
	if normalized == "" {
		return true
	}
	for _, ex := range e.excludedTitles {
		if normalized == ex || strings.Contains(normalized, ex) {
			return true
		}
	}
	return false
}

// LeafEntries returns the chunkable entries: leaves that are not
// excluded and have no excluded ancestor.
func LeafEntries(entries []models.TocEntry) []models.TocEntry {
	hasChild := make(map[string]bool, len(entries))
	byID := make(map[string]models.TocEntry, len(entries))
	for _, entry := range entries {
		byID[entry.ID] = entry
		if entry.ParentID != "" {
			hasChild[entry.ParentID] = true
		}
	}

	var leaves []models.TocEntry
	for _, entry := range entries {
		if hasChild[entry.ID] || entry.IsExcluded {
			continue
		}
		if ancestorExcluded(entry, byID) {
			continue
		}
		leaves = append(leaves, entry)
	}
	return leaves
}

func ancestorExcluded(entry models.TocEntry, byID map[string]models.TocEntry) bool {
	for entry.ParentID != "" {
		parent, ok := byID[entry.ParentID]
		if !ok {
			return false
		}
		if parent.IsExcluded {
			return true
		}
		entry = parent
	}
	return false
}

// HierarchyPath joins the ancestor titles down to the entry itself,
// the breadcrumb embedded ahead of every passage.
func HierarchyPath(entry models.TocEntry, entries []models.TocEntry) string {
	byID := make(map[string]models.TocEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	titles := []string{entry.Title}
	for entry.ParentID != "" {
		parent, ok := byID[entry.ParentID]
		if !ok {
			break
		}
		titles = append([]string{parent.Title}, titles...)
		entry = parent
	}
	return strings.Join(titles, " > ")
}

// SectionText concatenates the pages covered by a leaf entry.
func SectionText(doc *models.SourceDocument, entry models.TocEntry) string {
	var b strings.Builder
	for page := entry.StartPage; page <= entry.EndPage; page++ {
		text := doc.PageText(page)
		if strings.TrimSpace(text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String()
}
