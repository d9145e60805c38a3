package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"family-coach-platform/models"
)

// MemoryVectorStore is an in-process VectorStore used by tests and
// single-node deployments without Mongo. Upserts keep the original
// insertion position so distance ties stay deterministic.
type MemoryVectorStore struct {
	mu   sync.RWMutex
	rows []memoryRow
}

type memoryRow struct {
	passage models.Passage
	vector  []float32
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{}
}

func (s *MemoryVectorStore) Store(ctx context.Context, passage models.Passage, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rows {
		if s.rows[i].passage.PassageID == passage.PassageID {
			s.rows[i] = memoryRow{passage: passage, vector: vector}
			return nil
		}
	}
	s.rows = append(s.rows, memoryRow{passage: passage, vector: vector})
	return nil
}

func (s *MemoryVectorStore) StoreBatch(ctx context.Context, passages []models.Passage, vectors [][]float32) error {
	if len(passages) != len(vectors) {
		return &models.VectorStoreError{Op: "store_batch", Err: fmt.Errorf("passage/vector count mismatch: %d vs %d", len(passages), len(vectors))}
	}
	for i := range passages {
		if err := s.Store(ctx, passages[i], vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryVectorStore) FindSimilar(ctx context.Context, vector []float32, topK int, filter PassageFilter) ([]PassageHit, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []PassageHit
	for _, row := range s.rows {
		if !matchesFilter(row.passage.SourceDocument, filter) {
			continue
		}
		hits = append(hits, PassageHit{
			Passage:  row.passage,
			Distance: CosineDistance(vector, row.vector),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MemoryVectorStore) FetchSections(ctx context.Context, sectionIDs []string) ([]models.Passage, error) {
	want := make(map[string]bool, len(sectionIDs))
	for _, id := range sectionIDs {
		want[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var passages []models.Passage
	for _, row := range s.rows {
		if want[row.passage.SectionID] {
			passages = append(passages, row.passage)
		}
	}
	return passages, nil
}

func (s *MemoryVectorStore) DeleteBySource(ctx context.Context, sourceDocument string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	for _, row := range s.rows {
		if row.passage.SourceDocument != sourceDocument {
			kept = append(kept, row)
		}
	}
	s.rows = kept
	return nil
}

// Count returns the number of stored passages.
func (s *MemoryVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func matchesFilter(source string, filter PassageFilter) bool {
	lower := strings.ToLower(source)
	if filter.SourceContains != "" && !strings.Contains(lower, strings.ToLower(filter.SourceContains)) {
		return false
	}
	if filter.SourceExcludes != "" && strings.Contains(lower, strings.ToLower(filter.SourceExcludes)) {
		return false
	}
	return true
}
