package models

// Passage is a length-bounded slice of a leaf section's text, the atomic
// unit stored and searched. Passages are created during ingestion, never
// mutated, and deleted only by re-ingestion of the same source document.
type Passage struct {
	PassageID      string `json:"passage_id" bson:"_id"`
	SectionID      string `json:"section_id" bson:"section_id"`
	ChunkIndex     int    `json:"chunk_index" bson:"chunk_index"`
	Text           string `json:"text" bson:"text"`
	EmbedText      string `json:"embed_text" bson:"embed_text"`
	StartPage      int    `json:"start_page" bson:"start_page"`
	EndPage        int    `json:"end_page" bson:"end_page"`
	Citation       string `json:"citation" bson:"citation"`
	HierarchyPath  string `json:"hierarchy_path" bson:"hierarchy_path"`
	SourceDocument string `json:"source_document" bson:"source_document"`
}

// PassageRow is the denormalized vector-store row. Keeping a dedicated
// collection enables $vectorSearch over the embedding while the passage
// fields stay queryable for section reconstruction.
type PassageRow struct {
	PassageID      string    `bson:"_id"`
	SectionID      string    `bson:"section_id"`
	ChunkIndex     int       `bson:"chunk_index"`
	Text           string    `bson:"text"`
	Compressed     bool      `bson:"compressed,omitempty"`
	Compression    string    `bson:"compression,omitempty"`
	EmbedText      string    `bson:"embed_text"`
	StartPage      int       `bson:"start_page"`
	EndPage        int       `bson:"end_page"`
	Citation       string    `bson:"citation"`
	HierarchyPath  string    `bson:"hierarchy_path"`
	SourceDocument string    `bson:"source_document"`
	Vector         []float32 `bson:"vector"`
	InsertSeq      int64     `bson:"insert_seq"`
}

// Section is a reconstructed leaf section: all passages sharing a
// SectionID concatenated back into flowing text. Derived per query,
// never stored.
type Section struct {
	SectionID     string   `json:"section_id"`
	HierarchyPath string   `json:"hierarchy_path"`
	FullText      string   `json:"full_text"`
	Citations     []string `json:"citations"`
	BestDistance  float64  `json:"best_distance"`
}
