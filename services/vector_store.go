package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"family-coach-platform/internal/logger"
	"family-coach-platform/models"
	"family-coach-platform/utils"
)

// PassageHit is one nearest-neighbor result: the passage plus its cosine
// distance from the query vector (0 identical, 2 opposite).
type PassageHit struct {
	Passage  models.Passage
	Distance float64
}

// PassageFilter narrows a similarity search by source document.
type PassageFilter struct {
	SourceContains string
	SourceExcludes string
}

// VectorStore is the passage index: upsert-on-write storage keyed by
// passage ID, nearest-neighbor search over the embedding vectors, and
// whole-section fetch so a partial hit can be expanded back to its full
// section text.
type VectorStore interface {
	Store(ctx context.Context, passage models.Passage, vector []float32) error
	StoreBatch(ctx context.Context, passages []models.Passage, vectors [][]float32) error
	FindSimilar(ctx context.Context, vector []float32, topK int, filter PassageFilter) ([]PassageHit, error)
	FetchSections(ctx context.Context, sectionIDs []string) ([]models.Passage, error)
	DeleteBySource(ctx context.Context, sourceDocument string) error
}

// TocStore persists resolved TOC entries alongside the passage index.
type TocStore interface {
	SaveEntries(ctx context.Context, entries []models.TocEntry) error
	DeleteBySource(ctx context.Context, sourceDocument string) error
}

// MongoVectorStore keeps passage rows in a Mongo collection. When an
// Atlas vector index is configured it searches with $vectorSearch;
// otherwise it scans candidate rows and scores cosine distance in
// process, which is fine at corpus scale (thousands of passages).
type MongoVectorStore struct {
	collection    *mongo.Collection
	indexName     string
	searchEnabled bool
	compress      bool
	insertSeq     atomic.Int64
}

// NewMongoVectorStore wraps the passages collection.
func NewMongoVectorStore(collection *mongo.Collection, indexName string, searchEnabled, compress bool) *MongoVectorStore {
	s := &MongoVectorStore{
		collection:    collection,
		indexName:     indexName,
		searchEnabled: searchEnabled,
		compress:      compress,
	}
	s.insertSeq.Store(time.Now().UnixNano())
	return s
}

// Store upserts a single passage row keyed by passage ID.
func (s *MongoVectorStore) Store(ctx context.Context, passage models.Passage, vector []float32) error {
	row, err := s.toRow(passage, vector)
	if err != nil {
		return &models.VectorStoreError{Op: "store", Err: err}
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": row.PassageID}, row, opts); err != nil {
		return &models.VectorStoreError{Op: "store", Err: err}
	}
	return nil
}

// StoreBatch upserts passage rows in one bulk write. Rows are sequenced
// so ties in later distance sorts resolve to insertion order.
func (s *MongoVectorStore) StoreBatch(ctx context.Context, passages []models.Passage, vectors [][]float32) error {
	if len(passages) == 0 {
		return nil
	}
	if len(passages) != len(vectors) {
		return &models.VectorStoreError{Op: "store_batch", Err: fmt.Errorf("passage/vector count mismatch: %d vs %d", len(passages), len(vectors))}
	}

	writes := make([]mongo.WriteModel, 0, len(passages))
	for i, passage := range passages {
		row, err := s.toRow(passage, vectors[i])
		if err != nil {
			return &models.VectorStoreError{Op: "store_batch", Err: err}
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": row.PassageID}).
			SetReplacement(row).
			SetUpsert(true))
	}

	if _, err := s.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true)); err != nil {
		return &models.VectorStoreError{Op: "store_batch", Err: err}
	}
	return nil
}

// FindSimilar returns the topK nearest passages by cosine distance,
// ascending, with insertion order breaking exact ties.
func (s *MongoVectorStore) FindSimilar(ctx context.Context, vector []float32, topK int, filter PassageFilter) ([]PassageHit, error) {
	if topK <= 0 {
		return nil, nil
	}

	if s.searchEnabled {
		hits, err := s.findWithVectorIndex(ctx, vector, topK, filter)
		if err == nil {
			return hits, nil
		}
		logger.Warn("vector index search failed, falling back to scan", "error", err)
	}

	return s.findWithScan(ctx, vector, topK, filter)
}

func (s *MongoVectorStore) findWithVectorIndex(ctx context.Context, vector []float32, topK int, filter PassageFilter) ([]PassageHit, error) {
	queryVec := make([]float64, len(vector))
	for i, v := range vector {
		queryVec[i] = float64(v)
	}

	stage := bson.M{
		"index":         s.indexName,
		"path":          "vector",
		"queryVector":   queryVec,
		"numCandidates": topK * 10,
		"limit":         topK,
	}
	if f := sourceFilter(filter); len(f) > 0 {
		stage["filter"] = f
	}

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: stage}},
		{{Key: "$addFields", Value: bson.M{"search_score": bson.M{"$meta": "vectorSearchScore"}}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, &models.VectorStoreError{Op: "vector_search", Err: err}
	}
	defer cursor.Close(ctx)

	var hits []PassageHit
	for cursor.Next(ctx) {
		var doc struct {
			models.PassageRow `bson:",inline"`
			SearchScore       float64 `bson:"search_score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, &models.VectorStoreError{Op: "vector_search", Err: err}
		}
		passage, err := s.fromRow(doc.PassageRow)
		if err != nil {
			return nil, &models.VectorStoreError{Op: "vector_search", Err: err}
		}
		// Atlas reports a similarity score in [0,1]; distance is its complement.
		hits = append(hits, PassageHit{Passage: passage, Distance: 1 - doc.SearchScore})
	}
	if err := cursor.Err(); err != nil {
		return nil, &models.VectorStoreError{Op: "vector_search", Err: err}
	}
	return hits, nil
}

func (s *MongoVectorStore) findWithScan(ctx context.Context, vector []float32, topK int, filter PassageFilter) ([]PassageHit, error) {
	query := sourceFilter(filter)

	cursor, err := s.collection.Find(ctx, query)
	if err != nil {
		return nil, &models.VectorStoreError{Op: "find_similar", Err: err}
	}
	defer cursor.Close(ctx)

	type scored struct {
		hit PassageHit
		seq int64
	}
	var candidates []scored

	for cursor.Next(ctx) {
		var row models.PassageRow
		if err := cursor.Decode(&row); err != nil {
			return nil, &models.VectorStoreError{Op: "find_similar", Err: err}
		}
		passage, err := s.fromRow(row)
		if err != nil {
			return nil, &models.VectorStoreError{Op: "find_similar", Err: err}
		}
		candidates = append(candidates, scored{
			hit: PassageHit{Passage: passage, Distance: CosineDistance(vector, row.Vector)},
			seq: row.InsertSeq,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, &models.VectorStoreError{Op: "find_similar", Err: err}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].hit.Distance != candidates[j].hit.Distance {
			return candidates[i].hit.Distance < candidates[j].hit.Distance
		}
		return candidates[i].seq < candidates[j].seq
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	hits := make([]PassageHit, len(candidates))
	for i, c := range candidates {
		hits[i] = c.hit
	}
	return hits, nil
}

// FetchSections returns every stored passage of the given sections.
func (s *MongoVectorStore) FetchSections(ctx context.Context, sectionIDs []string) ([]models.Passage, error) {
	if len(sectionIDs) == 0 {
		return nil, nil
	}

	cursor, err := s.collection.Find(ctx, bson.M{"section_id": bson.M{"$in": sectionIDs}})
	if err != nil {
		return nil, &models.VectorStoreError{Op: "fetch_sections", Err: err}
	}
	defer cursor.Close(ctx)

	var passages []models.Passage
	for cursor.Next(ctx) {
		var row models.PassageRow
		if err := cursor.Decode(&row); err != nil {
			return nil, &models.VectorStoreError{Op: "fetch_sections", Err: err}
		}
		passage, err := s.fromRow(row)
		if err != nil {
			return nil, &models.VectorStoreError{Op: "fetch_sections", Err: err}
		}
		passages = append(passages, passage)
	}
	if err := cursor.Err(); err != nil {
		return nil, &models.VectorStoreError{Op: "fetch_sections", Err: err}
	}
	return passages, nil
}

// DeleteBySource removes every passage of one source document, the first
// step of a re-ingestion.
func (s *MongoVectorStore) DeleteBySource(ctx context.Context, sourceDocument string) error {
	res, err := s.collection.DeleteMany(ctx, bson.M{"source_document": sourceDocument})
	if err != nil {
		return &models.VectorStoreError{Op: "delete_by_source", Err: err}
	}
	if res.DeletedCount > 0 {
		logger.Info("deleted passages for re-ingestion", "source", sourceDocument, "count", res.DeletedCount)
	}
	return nil
}

func (s *MongoVectorStore) toRow(passage models.Passage, vector []float32) (models.PassageRow, error) {
	row := models.PassageRow{
		PassageID:      passage.PassageID,
		SectionID:      passage.SectionID,
		ChunkIndex:     passage.ChunkIndex,
		Text:           passage.Text,
		EmbedText:      passage.EmbedText,
		StartPage:      passage.StartPage,
		EndPage:        passage.EndPage,
		Citation:       passage.Citation,
		HierarchyPath:  passage.HierarchyPath,
		SourceDocument: passage.SourceDocument,
		Vector:         vector,
		InsertSeq:      s.insertSeq.Add(1),
	}

	if s.compress {
		compressed, algo, err := utils.CompressText(passage.Text)
		if err != nil {
			return models.PassageRow{}, err
		}
		if algo != utils.CompressionNone {
			row.Text = base64.StdEncoding.EncodeToString(compressed)
			row.Compressed = true
			row.Compression = string(algo)
		}
	}
	return row, nil
}

func (s *MongoVectorStore) fromRow(row models.PassageRow) (models.Passage, error) {
	return DecodePassageRow(row)
}

// DecodePassageRow converts a stored row back into a passage, reversing
// the text compression when present.
func DecodePassageRow(row models.PassageRow) (models.Passage, error) {
	text := row.Text
	if row.Compressed {
		raw, err := base64.StdEncoding.DecodeString(row.Text)
		if err != nil {
			return models.Passage{}, err
		}
		decompressed, err := utils.DecompressText(raw, utils.CompressionAlgorithm(row.Compression))
		if err != nil {
			return models.Passage{}, err
		}
		text = decompressed
	}
	return models.Passage{
		PassageID:      row.PassageID,
		SectionID:      row.SectionID,
		ChunkIndex:     row.ChunkIndex,
		Text:           text,
		EmbedText:      row.EmbedText,
		StartPage:      row.StartPage,
		EndPage:        row.EndPage,
		Citation:       row.Citation,
		HierarchyPath:  row.HierarchyPath,
		SourceDocument: row.SourceDocument,
	}, nil
}

func sourceFilter(filter PassageFilter) bson.M {
	query := bson.M{}
	if filter.SourceContains != "" {
		query["source_document"] = bson.M{"$regex": filter.SourceContains, "$options": "i"}
	}
	if filter.SourceExcludes != "" {
		query["source_document"] = bson.M{"$not": bson.M{"$regex": filter.SourceExcludes, "$options": "i"}}
	}
	return query
}

// CosineDistance is 1 minus cosine similarity. A zero-magnitude vector
// yields the maximum distance so degenerate rows sort last.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// ReconstructSections rebuilds each surviving section's flowing text from
// its complete passage set: passages grouped by section, sorted by chunk
// index then page range, joined with blank lines, citations deduplicated
// in first-seen order. best maps section ID to the lowest hit distance and
// orders the output ascending; passages of sections absent from best are
// ignored.
func ReconstructSections(passages []models.Passage, best map[string]float64) []models.Section {
	if len(passages) == 0 || len(best) == 0 {
		return nil
	}

	groups := make(map[string][]models.Passage)
	var order []string
	for _, p := range passages {
		if _, ok := best[p.SectionID]; !ok {
			continue
		}
		if _, ok := groups[p.SectionID]; !ok {
			order = append(order, p.SectionID)
		}
		groups[p.SectionID] = append(groups[p.SectionID], p)
	}

	sections := make([]models.Section, 0, len(order))
	for _, sectionID := range order {
		group := groups[sectionID]

		sort.SliceStable(group, func(i, j int) bool {
			if group[i].ChunkIndex != group[j].ChunkIndex {
				return group[i].ChunkIndex < group[j].ChunkIndex
			}
			if group[i].StartPage != group[j].StartPage {
				return group[i].StartPage < group[j].StartPage
			}
			return group[i].EndPage < group[j].EndPage
		})

		var texts []string
		var citations []string
		seenChunk := make(map[int]bool)
		seenCitation := make(map[string]bool)
		for _, p := range group {
			if seenChunk[p.ChunkIndex] {
				continue
			}
			seenChunk[p.ChunkIndex] = true
			texts = append(texts, p.Text)
			if c := p.Citation; c != "" && !seenCitation[c] {
				seenCitation[c] = true
				citations = append(citations, c)
			}
		}

		sections = append(sections, models.Section{
			SectionID:     sectionID,
			HierarchyPath: group[0].HierarchyPath,
			FullText:      joinPassages(texts),
			Citations:     citations,
			BestDistance:  best[sectionID],
		})
	}

	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].BestDistance < sections[j].BestDistance
	})
	return sections
}

func joinPassages(texts []string) string {
	switch len(texts) {
	case 0:
		return ""
	case 1:
		return texts[0]
	}
	out := texts[0]
	for _, t := range texts[1:] {
		out += "\n\n" + t
	}
	return out
}

// MongoTocStore persists TOC entries per source document.
type MongoTocStore struct {
	collection *mongo.Collection
}

func NewMongoTocStore(collection *mongo.Collection) *MongoTocStore {
	return &MongoTocStore{collection: collection}
}

func (s *MongoTocStore) SaveEntries(ctx context.Context, entries []models.TocEntry) error {
	if len(entries) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(entries))
	for _, entry := range entries {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": entry.ID}).
			SetReplacement(entry).
			SetUpsert(true))
	}
	if _, err := s.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true)); err != nil {
		return &models.VectorStoreError{Op: "save_toc_entries", Err: err}
	}
	return nil
}

func (s *MongoTocStore) DeleteBySource(ctx context.Context, sourceDocument string) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{"source_document": sourceDocument}); err != nil {
		return &models.VectorStoreError{Op: "delete_toc_entries", Err: err}
	}
	return nil
}
