package ai

import (
	"context"
	"fmt"

	"family-coach-platform/internal/config"
	"family-coach-platform/internal/logger"
	"family-coach-platform/models"
	"family-coach-platform/utils"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// EmbeddingService converts text into fixed-dimension vectors via the
// Google Generative AI embedding model (text-embedding-004 by default).
// Inputs over the configured character ceiling are truncated before the
// call. Provider failures are not retried here; the pipeline owns the
// retry policy.
type EmbeddingService struct {
	client    *genai.Client
	model     string
	charLimit int
}

// NewEmbeddingService creates an embedding service from configuration.
func NewEmbeddingService(ctx context.Context, cfg *config.Config) (*EmbeddingService, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	return &EmbeddingService{
		client:    client,
		model:     cfg.GoogleEmbeddingsModel,
		charLimit: cfg.EmbedCharLimit,
	}, nil
}

// Embed returns an embedding vector for the given text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	text = s.truncate(text)

	model := s.client.EmbeddingModel(s.model)
	resp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, &models.EmbeddingError{Model: s.model, Err: err}
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, &models.EmbeddingError{Model: s.model, Err: fmt.Errorf("no embedding returned")}
	}

	return resp.Embedding.Values, nil
}

// EmbedBatch returns embedding vectors for the given texts, in input
// order. Batch and single-item calls yield identical vectors for
// identical text.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	model := s.client.EmbeddingModel(s.model)
	batch := model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(s.truncate(text)))
	}

	resp, err := model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, &models.EmbeddingError{Model: s.model, Err: err}
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &models.EmbeddingError{
			Model: s.model,
			Err:   fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)),
		}
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, &models.EmbeddingError{Model: s.model, Err: fmt.Errorf("empty embedding at index %d", i)}
		}
		vectors[i] = emb.Values
	}

	return vectors, nil
}

// truncate enforces the character ceiling so inputs respect the model's
// token limit.
func (s *EmbeddingService) truncate(text string) string {
	if s.charLimit <= 0 || len([]rune(text)) <= s.charLimit {
		return text
	}
	logger.Warn("truncating embedding input", "model", s.model, "original_chars", len([]rune(text)), "limit", s.charLimit)
	return utils.TruncateRunes(text, s.charLimit)
}

// Close releases the underlying client.
func (s *EmbeddingService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
