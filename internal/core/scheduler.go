package core

// scheduler.go holds the maintenance side of the service:
//
//  1. RecoverInterrupted runs once at startup and parks jobs a crash left
//     in PROCESSING so they can be resumed from their checkpoint.
//  2. StartJanitor runs periodically and deletes temp files that no
//     unfinished job references.
//
// Both log failures and keep going; maintenance never stops the server.

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// JanitorConfig holds configuration for the temp file janitor.
type JanitorConfig struct {
	Interval time.Duration // How often to sweep (default: 1h)
	MinAge   time.Duration // Files younger than this are never removed (default: 1h)
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.MinAge <= 0 {
		c.MinAge = time.Hour
	}
	return c
}

// unfinished are the statuses whose jobs may still read their temp file.
var unfinished = []JobStatus{
	StatusPending, StatusProcessing, StatusPaused, StatusResuming, StatusRetrying,
}

// RecoverInterrupted parks jobs left in PROCESSING by a previous process as
// PAUSED. With resume set, those jobs and jobs paused by shutdown are queued
// again, and queued jobs are re-enqueued in case the queue did not survive.
// It must run before workers start. It returns the number of jobs queued.
func (s *Service) RecoverInterrupted(ctx context.Context, resume bool) (int, error) {
	jobs, err := s.store.ListJobs(ctx, JobQuery{Statuses: unfinished})
	if err != nil {
		return 0, err
	}

	queued := 0
	for i := range jobs {
		job := &jobs[i]
		log := slog.With("job_id", job.ID, "status", job.Status)

		if job.Status == StatusProcessing {
			if err := job.Transition(StatusPaused, s.now().UTC()); err != nil {
				log.Error("park interrupted job failed", "error", err)
				continue
			}
			job.LastError = InterruptedReason
			if err := s.store.UpdateJob(ctx, job, StatusProcessing); err != nil {
				log.Error("park interrupted job failed", "error", err)
				continue
			}
			log.Info("interrupted job paused", "offset", job.Processed)
		}

		if !resume {
			continue
		}

		switch {
		case job.Status == StatusPaused && job.LastError == InterruptedReason:
			if _, err := s.Resume(ctx, job.ID); err != nil {
				log.Error("resume interrupted job failed", "error", err)
				continue
			}
		case job.Status.Runnable():
			if err := s.enqueue(ctx, job); err != nil {
				log.Error("re-enqueue job failed", "error", err)
				continue
			}
		default:
			continue
		}
		queued++
	}

	slog.Info("startup recovery finished", "unfinished", len(jobs), "queued", queued)
	return queued, nil
}

// StartJanitor sweeps orphaned temp files immediately, then every Interval,
// until ctx is cancelled.
func (s *Service) StartJanitor(ctx context.Context, cfg JanitorConfig) {
	cfg = cfg.withDefaults()
	slog.Info("janitor started", "interval", cfg.Interval, "min_age", cfg.MinAge, "dir", s.opts.TempDir)

	s.runSweep(ctx, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx, cfg)
		}
	}
}

func (s *Service) runSweep(ctx context.Context, cfg JanitorConfig) {
	start := time.Now()
	removed, err := s.SweepTempFiles(ctx, cfg.MinAge)
	if err != nil {
		slog.Error("temp sweep failed", "error", err)
		return
	}
	slog.Info("temp sweep finished",
		"removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// SweepTempFiles removes service-owned temp files older than minAge that
// belong to no unfinished job.
func (s *Service) SweepTempFiles(ctx context.Context, minAge time.Duration) (int, error) {
	jobs, err := s.store.ListJobs(ctx, JobQuery{Statuses: unfinished})
	if err != nil {
		return 0, err
	}
	inUse := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.TempPath != "" {
			inUse[filepath.Clean(j.TempPath)] = true
		}
	}

	entries, err := os.ReadDir(s.opts.TempDir)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-minAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		path := filepath.Clean(filepath.Join(s.opts.TempDir, e.Name()))
		if inUse[path] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("remove orphaned temp file failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
