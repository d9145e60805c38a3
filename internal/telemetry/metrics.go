package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	StageDuration      metric.Float64Histogram
	StageCacheHits     metric.Int64Counter
	StageRetries       metric.Int64Counter
	TokensUsed         metric.Int64Counter
	PassagesIngested   metric.Int64Counter
	IngestionDuration  metric.Float64Histogram
	SectionsRetrieved  metric.Int64Counter
	DatabaseOperations metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("family-coach-platform")

	stageDuration, err := meter.Float64Histogram(
		"pipeline.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stageCacheHits, err := meter.Int64Counter(
		"pipeline.stage.cache_hits",
		metric.WithDescription("Stage results served from cache"),
	)
	if err != nil {
		return nil, err
	}

	stageRetries, err := meter.Int64Counter(
		"pipeline.stage.retries",
		metric.WithDescription("Stage retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter(
		"gemini.tokens.used",
		metric.WithDescription("Total Gemini tokens used"),
	)
	if err != nil {
		return nil, err
	}

	passagesIngested, err := meter.Int64Counter(
		"ingestion.passages.total",
		metric.WithDescription("Passages written to the vector store"),
	)
	if err != nil {
		return nil, err
	}

	ingestionDuration, err := meter.Float64Histogram(
		"ingestion.duration",
		metric.WithDescription("Document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	sectionsRetrieved, err := meter.Int64Counter(
		"retrieval.sections.total",
		metric.WithDescription("Sections returned by retrieval"),
	)
	if err != nil {
		return nil, err
	}

	databaseOperations, err := meter.Int64Counter(
		"database.operations.total",
		metric.WithDescription("Total database operations"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		StageDuration:      stageDuration,
		StageCacheHits:     stageCacheHits,
		StageRetries:       stageRetries,
		TokensUsed:         tokensUsed,
		PassagesIngested:   passagesIngested,
		IngestionDuration:  ingestionDuration,
		SectionsRetrieved:  sectionsRetrieved,
		DatabaseOperations: databaseOperations,
	}, nil
}

// RecordStage records pipeline stage metrics
func (m *Metrics) RecordStage(stage, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("pipeline.stage", stage),
		attribute.String("pipeline.status", status),
	}

	m.StageDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordCacheHit records a stage cache hit
func (m *Metrics) RecordCacheHit(stage string) {
	m.StageCacheHits.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("pipeline.stage", stage),
	))
}

// RecordRetry records a stage retry attempt
func (m *Metrics) RecordRetry(stage string) {
	m.StageRetries.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("pipeline.stage", stage),
	))
}

// RecordTokensUsed records Gemini token usage
func (m *Metrics) RecordTokensUsed(tokens int64, model string) {
	attrs := []attribute.KeyValue{
		attribute.String("gemini.model", model),
		attribute.String("service", "gemini"),
	}

	m.TokensUsed.Add(context.Background(), tokens, metric.WithAttributes(attrs...))
}

// RecordIngestion records document ingestion metrics
func (m *Metrics) RecordIngestion(source string, passages int64, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("ingestion.source", source),
	}

	m.PassagesIngested.Add(context.Background(), passages, metric.WithAttributes(attrs...))
	m.IngestionDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordSectionsRetrieved records retrieval result counts
func (m *Metrics) RecordSectionsRetrieved(count int64) {
	m.SectionsRetrieved.Add(context.Background(), count)
}

// RecordDatabaseOperation records database operation metrics
func (m *Metrics) RecordDatabaseOperation(operation, collection string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.String("db.collection", collection),
		attribute.Bool("db.success", success),
	}

	m.DatabaseOperations.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
