package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"family-coach-platform/internal/logger"
	"family-coach-platform/models"
	"family-coach-platform/services"
)

const (
	TaskRunPipeline    = "pipeline:run"
	TaskIngestDocument = "ingest:document"
)

type RunPipelinePayload struct {
	ConversationID string `json:"conversation_id"`
	Transcript     string `json:"transcript"`
}

type IngestDocumentPayload struct {
	Path string `json:"path"`
}

// NewRunPipelineTask enqueues one pipeline run. The task ID is the
// conversation ID so duplicate submissions collapse into one run; a
// queue-level retry resumes from the stage cache rather than redoing
// finished stages.
func NewRunPipelineTask(conversationID, transcript string) (*asynq.Task, error) {
	payload, err := json.Marshal(RunPipelinePayload{
		ConversationID: conversationID,
		Transcript:     transcript,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskRunPipeline,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("default"),
		asynq.TaskID("pipeline:"+conversationID),
	), nil
}

// NewIngestDocumentTask enqueues one document ingestion. Keyed by path so
// a sweep never enqueues the same file twice while a run is pending.
func NewIngestDocumentTask(path string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestDocumentPayload{Path: path})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("critical"),
		asynq.TaskID("ingest:"+path),
	), nil
}

// Client wraps the asynq client with typed enqueue helpers.
type Client struct {
	inner *asynq.Client
}

func NewClient(redisOpt asynq.RedisClientOpt) *Client {
	return &Client{inner: asynq.NewClient(redisOpt)}
}

func (c *Client) EnqueuePipelineRun(conversationID, transcript string) error {
	task, err := NewRunPipelineTask(conversationID, transcript)
	if err != nil {
		return err
	}
	info, err := c.inner.Enqueue(task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			logger.Debug("pipeline run already queued", "conversation", conversationID)
			return nil
		}
		return err
	}
	logger.Info("pipeline run enqueued", "conversation", conversationID, "task_id", info.ID)
	return nil
}

// EnqueueIngest satisfies services.IngestEnqueuer.
func (c *Client) EnqueueIngest(path string) error {
	task, err := NewIngestDocumentTask(path)
	if err != nil {
		return err
	}
	info, err := c.inner.Enqueue(task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			logger.Debug("ingestion already queued", "path", path)
			return nil
		}
		return err
	}
	logger.Info("ingestion enqueued", "path", path, "task_id", info.ID)
	return nil
}

func (c *Client) Close() error {
	return c.inner.Close()
}

// TaskProcessor holds the handlers the worker registers with asynq.
type TaskProcessor struct {
	coach     *services.CoachPipeline
	ingestion *services.IngestionService
	loader    *services.DocumentLoader
}

func NewTaskProcessor(coach *services.CoachPipeline, ingestion *services.IngestionService, loader *services.DocumentLoader) *TaskProcessor {
	return &TaskProcessor{
		coach:     coach,
		ingestion: ingestion,
		loader:    loader,
	}
}

// HandleRunPipeline executes the four-stage pipeline for one
// conversation. A failed run returns an error so asynq requeues it; the
// retried run resumes from the stage cache.
func (p *TaskProcessor) HandleRunPipeline(ctx context.Context, t *asynq.Task) error {
	var payload RunPipelinePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	logger.Info("pipeline task started", "conversation", payload.ConversationID)

	run := p.coach.Run(ctx, payload.ConversationID, payload.Transcript)
	if run.Status != "completed" {
		return fmt.Errorf("pipeline run failed for %s: %s", payload.ConversationID, run.Error)
	}
	return nil
}

// HandleIngestDocument loads and ingests one document file. A document
// without a TOC is skipped permanently rather than retried.
func (p *TaskProcessor) HandleIngestDocument(ctx context.Context, t *asynq.Task) error {
	var payload IngestDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	doc, err := p.loader.Load(payload.Path)
	if err != nil {
		return fmt.Errorf("loading %s: %v: %w", payload.Path, err, asynq.SkipRetry)
	}

	stats, err := p.ingestion.Ingest(ctx, doc)
	if err != nil {
		if errors.Is(err, models.ErrNoTOC) {
			logger.Warn("skipping document without TOC", "path", payload.Path)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	logger.Info("ingestion task complete",
		"path", payload.Path,
		"passages", stats.Passages,
		"duration", stats.Duration)
	return nil
}
