package models

// TocDecl is one declared table-of-contents row as delivered by the
// external document-parsing collaborator: a level, a title, and the page
// the entry starts on. End pages are derived during extraction.
type TocDecl struct {
	Level     int    `json:"level"`
	Title     string `json:"title"`
	StartPage int    `json:"start_page"`
}

// TocEntry is one resolved table-of-contents entry. Entries are created
// once during ingestion of a source document and immutable afterwards.
type TocEntry struct {
	ID             string `json:"id" bson:"_id"`
	Level          int    `json:"level" bson:"level"`
	Title          string `json:"title" bson:"title"`
	StartPage      int    `json:"start_page" bson:"start_page"`
	EndPage        int    `json:"end_page" bson:"end_page"`
	ParentID       string `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	SourceDocument string `json:"source_document" bson:"source_document"`
	IsExcluded     bool   `json:"is_excluded" bson:"is_excluded"`
}

// SourceDocument is the ingestion input: plain text per page plus the
// declared table of contents. Page extraction itself happens upstream.
type SourceDocument struct {
	Name  string    `json:"name"`
	Pages []string  `json:"pages"`
	TOC   []TocDecl `json:"toc"`
}

// PageCount returns the number of extracted pages.
func (d *SourceDocument) PageCount() int { return len(d.Pages) }

// PageText returns the text of a 1-based page number, or "" when the page
// is out of range.
func (d *SourceDocument) PageText(page int) string {
	if page < 1 || page > len(d.Pages) {
		return ""
	}
	return d.Pages[page-1]
}
