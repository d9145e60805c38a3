package services

import (
	"context"
	"fmt"
	"time"

	"family-coach-platform/internal/logger"
	"family-coach-platform/internal/telemetry"
	"family-coach-platform/models"
)

// IngestStats summarizes one document ingestion.
type IngestStats struct {
	SourceDocument string        `json:"source_document"`
	TocEntries     int           `json:"toc_entries"`
	LeafSections   int           `json:"leaf_sections"`
	Passages       int           `json:"passages"`
	SkippedEmpty   int           `json:"skipped_empty"`
	Duration       time.Duration `json:"duration"`
}

// IngestionService runs the full ingestion path for one document:
// resolve the TOC, chunk each leaf section, embed in batches, and store.
// Re-ingesting a document first deletes its previous passages so the
// index never holds two generations at once.
type IngestionService struct {
	extractor *TOCExtractor
	chunker   *Chunker
	embedder  Embedder
	store     VectorStore
	tocStore  TocStore
	metrics   *telemetry.Metrics
	batchSize int
}

// NewIngestionService wires the ingestion path. tocStore and metrics may
// be nil.
func NewIngestionService(extractor *TOCExtractor, chunker *Chunker, embedder Embedder, store VectorStore, tocStore TocStore, metrics *telemetry.Metrics) *IngestionService {
	return &IngestionService{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		tocStore:  tocStore,
		metrics:   metrics,
		batchSize: 16,
	}
}

// Ingest processes one source document end to end. A document without a
// TOC returns ErrNoTOC so callers can skip it without requeueing.
func (s *IngestionService) Ingest(ctx context.Context, doc *models.SourceDocument) (*IngestStats, error) {
	start := time.Now()

	entries := s.extractor.Extract(doc)
	if len(entries) == 0 {
		return nil, fmt.Errorf("ingesting %q: %w", doc.Name, models.ErrNoTOC)
	}

	leaves := LeafEntries(entries)
	logger.Info("ingestion started",
		"source", doc.Name,
		"pages", doc.PageCount(),
		"toc_entries", len(entries),
		"leaf_sections", len(leaves))

	if err := s.store.DeleteBySource(ctx, doc.Name); err != nil {
		return nil, err
	}
	if s.tocStore != nil {
		if err := s.tocStore.DeleteBySource(ctx, doc.Name); err != nil {
			return nil, err
		}
		if err := s.tocStore.SaveEntries(ctx, entries); err != nil {
			return nil, err
		}
	}

	stats := &IngestStats{
		SourceDocument: doc.Name,
		TocEntries:     len(entries),
		LeafSections:   len(leaves),
	}

	var pending []models.Passage
	for _, leaf := range leaves {
		text := SectionText(doc, leaf)
		passages := s.chunker.ChunkSection(leaf, HierarchyPath(leaf, entries), text)
		if len(passages) == 0 {
			stats.SkippedEmpty++
			continue
		}
		pending = append(pending, passages...)

		for len(pending) >= s.batchSize {
			if err := s.flush(ctx, pending[:s.batchSize]); err != nil {
				return nil, err
			}
			stats.Passages += s.batchSize
			pending = pending[s.batchSize:]
		}
	}

	if len(pending) > 0 {
		if err := s.flush(ctx, pending); err != nil {
			return nil, err
		}
		stats.Passages += len(pending)
	}

	stats.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordIngestion(doc.Name, int64(stats.Passages), stats.Duration.Seconds())
	}
	logger.Info("ingestion complete",
		"source", doc.Name,
		"passages", stats.Passages,
		"skipped_empty_sections", stats.SkippedEmpty,
		"duration", stats.Duration)

	return stats, nil
}

// flush embeds one batch of passages and writes them to the store.
func (s *IngestionService) flush(ctx context.Context, passages []models.Passage) error {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.EmbedText
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	return s.store.StoreBatch(ctx, passages, vectors)
}
