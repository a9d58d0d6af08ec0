package core

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusPaused     JobStatus = "PAUSED"
	StatusResuming   JobStatus = "RESUMING"
	StatusRetrying   JobStatus = "RETRYING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	StatusCancelled  JobStatus = "CANCELLED"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrStaleJob is returned when a job changed status underneath an update.
	ErrStaleJob = errors.New("job status changed concurrently")

	// ErrJobNotFound is returned when no job has the requested id.
	ErrJobNotFound = errors.New("import job not found")
)

var transitions = map[JobStatus][]JobStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:     {StatusResuming, StatusCancelled},
	StatusResuming:   {StatusProcessing, StatusCancelled},
	StatusFailed:     {StatusRetrying},
	StatusRetrying:   {StatusProcessing, StatusCancelled},
}

// Terminal reports whether the status ends a run.
// FAILED is terminal but may be re-entered through RETRYING.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Runnable reports whether a worker may pick the job up.
func (s JobStatus) Runnable() bool {
	switch s {
	case StatusPending, StatusResuming, StatusRetrying:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPaused, StatusResuming,
		StatusRetrying, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the job to a new status and stamps the matching timestamp.
func (j *Job) Transition(to JobStatus, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}

	t := now
	switch to {
	case StatusProcessing:
		if j.StartedAt == nil {
			j.StartedAt = &t
		}
	case StatusPaused:
		j.PausedAt = &t
	case StatusResuming, StatusRetrying:
		j.ResumedAt = &t
	case StatusCancelled:
		j.CanceledAt = &t
	case StatusCompleted, StatusFailed:
		j.CompletedAt = &t
	}

	j.Status = to
	j.UpdatedAt = now
	return nil
}

// RecordRow advances the counters for one consumed data row.
func (j *Job) RecordRow(success bool) {
	j.Processed++
	if success {
		j.Success++
	} else {
		j.Failed++
	}
	if j.Processed > j.Total {
		j.Total = j.Processed
	}
}

// FinalStatus picks the terminal status for a run that consumed its stream
// or was aborted by a system finding.
//
// By default any failed row yields FAILED. With partialCompletes, a job whose
// stream was exhausted reports COMPLETED with a nonzero failed count.
func (j *Job) FinalStatus(aborted, partialCompletes bool) JobStatus {
	if aborted {
		return StatusFailed
	}
	if j.Failed == 0 || partialCompletes {
		return StatusCompleted
	}
	return StatusFailed
}

// CheckCounters verifies the counter invariants.
func (c Counters) CheckCounters() error {
	if c.Processed != c.Success+c.Failed {
		return fmt.Errorf("processed %d != success %d + failed %d", c.Processed, c.Success, c.Failed)
	}
	if c.Processed > c.Total {
		return fmt.Errorf("processed %d exceeds total %d", c.Processed, c.Total)
	}
	return nil
}

// Remaining returns the number of data rows not yet consumed.
func (c Counters) Remaining() int {
	if c.Total <= c.Processed {
		return 0
	}
	return c.Total - c.Processed
}
