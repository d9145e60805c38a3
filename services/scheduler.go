package services

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"family-coach-platform/internal/logger"
)

// IngestEnqueuer hands a discovered document file to the task queue.
// Satisfied by queue.Client.
type IngestEnqueuer interface {
	EnqueueIngest(path string) error
}

// SweepScheduler periodically scans the ingest directory and enqueues an
// ingestion task for each new document. Files already handed off are
// remembered in-process; the queue deduplicates across restarts via task
// IDs derived from the path.
type SweepScheduler struct {
	scheduler *gocron.Scheduler
	enqueuer  IngestEnqueuer
	dir       string
	interval  time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewSweepScheduler(enqueuer IngestEnqueuer, dir string, interval time.Duration) *SweepScheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &SweepScheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		enqueuer:  enqueuer,
		dir:       dir,
		interval:  interval,
		seen:      make(map[string]time.Time),
	}
}

// Start runs one sweep immediately and then repeats on the configured
// interval in the background.
func (s *SweepScheduler) Start() error {
	if _, err := s.scheduler.Every(s.interval).Do(s.Sweep); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	logger.Info("ingest sweep scheduler started", "dir", s.dir, "interval", s.interval)
	s.Sweep()
	return nil
}

func (s *SweepScheduler) Stop() {
	s.scheduler.Stop()
	logger.Info("ingest sweep scheduler stopped")
}

// Sweep scans the directory once. A file is enqueued when it is a
// supported document, has not been handed off yet, and has not been
// modified in the last minute (still being written).
func (s *SweepScheduler) Sweep() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		logger.Warn("ingest sweep failed to read directory", "dir", s.dir, "error", err)
		return
	}

	enqueued := 0
	for _, entry := range entries {
		if entry.IsDir() || !isDocumentFile(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) < time.Minute {
			continue
		}

		s.mu.Lock()
		if handedOff, ok := s.seen[path]; ok && !info.ModTime().After(handedOff) {
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		if err := s.enqueuer.EnqueueIngest(path); err != nil {
			logger.Error("failed to enqueue ingestion", "path", path, "error", err)
			continue
		}

		s.mu.Lock()
		s.seen[path] = info.ModTime()
		s.mu.Unlock()
		enqueued++
	}

	if enqueued > 0 {
		logger.Info("ingest sweep enqueued documents", "count", enqueued)
	}
}

func isDocumentFile(name string) bool {
	if strings.HasSuffix(strings.ToLower(name), ".toc.json") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".pdf":
		return true
	}
	return false
}
