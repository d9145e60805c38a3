package services

import (
	"context"
	"sync"

	"family-coach-platform/internal/logger"
	"family-coach-platform/models"
)

// Embedder turns text into vectors. Satisfied by ai.EmbeddingService and
// by test fakes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// RetrievalOrchestrator answers the advice stage's two retrieval
// questions at once: counseling guidance and concrete techniques. Both
// queries run concurrently against the same store, results are merged,
// filtered by the similarity threshold, reconstructed into sections, and
// capped.
type RetrievalOrchestrator struct {
	embedder     Embedder
	store        VectorStore
	topK         int
	simThreshold float64
	maxSections  int
}

// NewRetrievalOrchestrator wires the retrieval layer. Zero values fall
// back to the defaults used in production (topK 50, threshold 0.45, 6
// sections).
func NewRetrievalOrchestrator(embedder Embedder, store VectorStore, topK int, simThreshold float64, maxSections int) *RetrievalOrchestrator {
	if topK <= 0 {
		topK = 50
	}
	if simThreshold <= 0 {
		simThreshold = 0.45
	}
	if maxSections <= 0 {
		maxSections = 6
	}
	return &RetrievalOrchestrator{
		embedder:     embedder,
		store:        store,
		topK:         topK,
		simThreshold: simThreshold,
		maxSections:  maxSections,
	}
}

// Retrieve runs one query end to end: embed, search, threshold, expand.
// Below-threshold hits are dropped; an empty result is a valid outcome,
// not an error.
func (r *RetrievalOrchestrator) Retrieve(ctx context.Context, query string, filter PassageFilter) ([]models.Section, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := r.store.FindSimilar(ctx, vector, r.topK, filter)
	if err != nil {
		return nil, err
	}

	sections, err := r.expandSections(ctx, hits)
	if err != nil {
		return nil, err
	}

	logger.Debug("retrieval complete",
		"hits", len(hits),
		"sections", len(sections))

	return sections, nil
}

// RetrieveForAdvice runs the counseling and technique queries
// concurrently and merges their results by best distance, keeping each
// section once. The cap applies to the merged list.
func (r *RetrievalOrchestrator) RetrieveForAdvice(ctx context.Context, counselingQuery, techniqueQuery string, filter PassageFilter) ([]models.Section, error) {
	var (
		wg             sync.WaitGroup
		counselingHits []PassageHit
		techniqueHits  []PassageHit
		counselingErr  error
		techniqueErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		counselingHits, counselingErr = r.search(ctx, counselingQuery, filter)
	}()
	go func() {
		defer wg.Done()
		techniqueHits, techniqueErr = r.search(ctx, techniqueQuery, filter)
	}()
	wg.Wait()

	if counselingErr != nil {
		return nil, counselingErr
	}
	if techniqueErr != nil {
		return nil, techniqueErr
	}

	merged := mergeHits(counselingHits, techniqueHits)
	sections, err := r.expandSections(ctx, merged)
	if err != nil {
		return nil, err
	}

	logger.Info("advice retrieval complete",
		"counseling_hits", len(counselingHits),
		"technique_hits", len(techniqueHits),
		"sections", len(sections))

	return sections, nil
}

func (r *RetrievalOrchestrator) search(ctx context.Context, query string, filter PassageFilter) ([]PassageHit, error) {
	if query == "" {
		return nil, nil
	}
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.FindSimilar(ctx, vector, r.topK, filter)
}

// aboveThreshold keeps hits whose similarity (1 minus distance) meets
// the configured floor.
func (r *RetrievalOrchestrator) aboveThreshold(hits []PassageHit) []PassageHit {
	var out []PassageHit
	for _, hit := range hits {
		if 1-hit.Distance >= r.simThreshold {
			out = append(out, hit)
		}
	}
	return out
}

// expandSections applies the similarity threshold, then fetches the
// complete passage set of every surviving section and rebuilds the full
// section texts. A hit never reaches the advice stage as a bare passage;
// it always expands to its whole section. The cap applies after
// expansion.
func (r *RetrievalOrchestrator) expandSections(ctx context.Context, hits []PassageHit) ([]models.Section, error) {
	relevant := r.aboveThreshold(hits)
	if len(relevant) == 0 {
		return nil, nil
	}

	best := make(map[string]float64, len(relevant))
	var sectionIDs []string
	for _, hit := range relevant {
		d, ok := best[hit.Passage.SectionID]
		if !ok {
			sectionIDs = append(sectionIDs, hit.Passage.SectionID)
		}
		if !ok || hit.Distance < d {
			best[hit.Passage.SectionID] = hit.Distance
		}
	}

	passages, err := r.store.FetchSections(ctx, sectionIDs)
	if err != nil {
		return nil, err
	}

	sections := ReconstructSections(passages, best)
	if len(sections) > r.maxSections {
		sections = sections[:r.maxSections]
	}
	return sections, nil
}

// mergeHits combines two hit lists, keeping the better distance when the
// same passage appears in both.
func mergeHits(a, b []PassageHit) []PassageHit {
	best := make(map[string]int, len(a)+len(b))
	var out []PassageHit

	for _, hit := range append(append([]PassageHit{}, a...), b...) {
		if i, ok := best[hit.Passage.PassageID]; ok {
			if hit.Distance < out[i].Distance {
				out[i].Distance = hit.Distance
			}
			continue
		}
		best[hit.Passage.PassageID] = len(out)
		out = append(out, hit)
	}
	return out
}
