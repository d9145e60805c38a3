package services

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingEnqueuer) EnqueueIngest(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recordingEnqueuer) enqueued() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func writeSettledFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	// Back-date so the sweep does not treat it as still being written
	old := time.Now().Add(-5 * time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))
	return path
}

func TestSweepEnqueuesNewDocuments(t *testing.T) {
	dir := t.TempDir()
	docPath := writeSettledFile(t, dir, "guide.json")
	writeSettledFile(t, dir, "guide.toc.json") // sidecar, never enqueued alone
	writeSettledFile(t, dir, "notes.txt")      // unsupported

	enq := &recordingEnqueuer{}
	s := NewSweepScheduler(enq, dir, time.Minute)

	s.Sweep()
	assert.Equal(t, []string{docPath}, enq.enqueued())
}

func TestSweepDoesNotReenqueueUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeSettledFile(t, dir, "guide.json")

	enq := &recordingEnqueuer{}
	s := NewSweepScheduler(enq, dir, time.Minute)

	s.Sweep()
	s.Sweep()
	assert.Len(t, enq.enqueued(), 1)
}

func TestSweepReenqueuesModifiedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeSettledFile(t, dir, "guide.json")

	enq := &recordingEnqueuer{}
	s := NewSweepScheduler(enq, dir, time.Minute)
	s.Sweep()

	// Re-ingestion after the document is updated in place
	require.NoError(t, os.WriteFile(path, []byte(`{"updated": true}`), 0o644))
	newer := time.Now().Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(path, newer, newer))

	s.Sweep()
	assert.Len(t, enq.enqueued(), 2)
}

func TestSweepSkipsFreshFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uploading.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	enq := &recordingEnqueuer{}
	s := NewSweepScheduler(enq, dir, time.Minute)

	s.Sweep()
	assert.Empty(t, enq.enqueued(), "a file still being written must wait for the next sweep")
}
