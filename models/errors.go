package models

import (
	"errors"
	"fmt"
)

// ErrNoTOC signals a document with no table of contents at all. Callers
// recover by skipping ingestion of that document.
var ErrNoTOC = errors.New("document has no table of contents")

// EmbeddingError wraps a failed embedding-provider call. It is never
// retried by the embedding client itself; the pipeline's retry policy owns
// that decision.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding call failed (model=%s): %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// VectorStoreError wraps a connection or query failure in the vector
// store backend.
type VectorStoreError struct {
	Op  string
	Err error
}

func (e *VectorStoreError) Error() string {
	return fmt.Sprintf("vector store %s failed: %v", e.Op, e.Err)
}

func (e *VectorStoreError) Unwrap() error { return e.Err }

// StageExecutionError is the terminal failure of a pipeline stage after
// its retries are exhausted.
type StageExecutionError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %q failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }
