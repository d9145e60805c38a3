package models

import "encoding/json"

// StageStatus tracks one stage through its lifecycle.
type StageStatus string

const (
	StagePending        StageStatus = "pending"
	StageRunning        StageStatus = "running"
	StageSucceeded      StageStatus = "succeeded"
	StageFailedRetry    StageStatus = "failed_retryable"
	StageFailedTerminal StageStatus = "failed_terminal"
)

// StageResult records one stage execution within a pipeline run. A result
// is written only after the stage fully succeeds or its retries are
// exhausted; partial results are never recorded. Status distinguishes a
// terminal failure from exhausted retries, which a later manual rerun may
// still recover.
type StageResult struct {
	StageName       string          `json:"stage_name"`
	ConversationID  string          `json:"conversation_id"`
	Status          StageStatus     `json:"status"`
	Success         bool            `json:"success"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Error           string          `json:"error,omitempty"`
	Attempt         int             `json:"attempt"`
	Cached          bool            `json:"cached"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
}

// PipelineRun is the outcome of one full Clean→Analyze→QA→Advise run for a
// conversation, as surfaced to the web layer via the task queue.
type PipelineRun struct {
	ConversationID string                 `json:"conversation_id"`
	Status         string                 `json:"status"` // "completed" or "failed"
	StageResults   map[string]StageResult `json:"stage_results"`
	Error          string                 `json:"error,omitempty"`
}
