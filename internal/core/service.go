package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/productimport/internal/logging"
)

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	TempDir                 string
	MaxFileSize             int64
	MaxConcurrent           int
	MaxWaitTime             time.Duration
	RowTimeout              time.Duration
	RequiredFields          []string
	ResolveAttempts         int
	PartialSuccessCompletes bool
	ProgressRetention       time.Duration
}

const (
	DefaultMaxFileSize       = 100 << 20
	DefaultRowTimeout        = 30 * time.Second
	DefaultProgressRetention = 5 * time.Minute
)

// tempPrefix names every source file the service owns in TempDir.
const tempPrefix = "import-"

func (o Options) withDefaults() Options {
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.RowTimeout <= 0 {
		o.RowTimeout = DefaultRowTimeout
	}
	if o.ProgressRetention <= 0 {
		o.ProgressRetention = DefaultProgressRetention
	}
	if len(o.RequiredFields) == 0 {
		o.RequiredFields = DefaultRequiredFields
	}
	return o
}

// Service runs import jobs: intake, the row pipeline, and lifecycle control.
type Service struct {
	store   Store
	sink    *Sink
	queue   Dispatcher
	signals Signaler
	limiter *JobLimiter
	opts    Options
	now     func() time.Time

	mu   sync.RWMutex
	runs map[uuid.UUID]*activeRun
}

// activeRun tracks progress listeners of a queued or running job.
type activeRun struct {
	mu        sync.Mutex
	progress  Progress
	listeners []chan Progress
	done      bool
}

// NewService creates a Service. queue and signals carry work and control
// requests to workers, which may live in other processes.
func NewService(store Store, queue Dispatcher, signals Signaler, opts Options) (*Service, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(opts.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Service{
		store:   store,
		sink:    NewSink(store),
		queue:   queue,
		signals: signals,
		limiter: NewJobLimiter(opts.MaxConcurrent, opts.MaxWaitTime),
		opts:    opts,
		now:     time.Now,
		runs:    make(map[uuid.UUID]*activeRun),
	}, nil
}

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until no worker holds a run slot or ctx is done.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// SubmitRequest describes an uploaded source file.
type SubmitRequest struct {
	FileName  string
	Charset   string
	CatalogID *int64
	Body      io.Reader
}

// Submit stores the upload in a temp file, creates a PENDING job, and queues it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if req.Body == nil {
		return nil, ErrNoFile
	}
	format, err := DetectFormat(req.FileName)
	if err != nil {
		return nil, err
	}

	path, size, hash, err := s.storeTemp(req.Body, format)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &Job{
		ID:          uuid.New(),
		FileName:    filepath.Base(req.FileName),
		FileSize:    size,
		Format:      format,
		Charset:     req.Charset,
		ContentHash: hash,
		TempPath:    path,
		CatalogID:   req.CatalogID,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.enqueue(ctx, job); err != nil {
		return nil, err
	}

	logging.WithFields(ctx, "job_id", job.ID, "file", job.FileName, "size", size).
		Info("import submitted")
	return job, nil
}

// storeTemp copies body to a new temp file while hashing it.
func (s *Service) storeTemp(body io.Reader, format Format) (path string, size int64, hash string, err error) {
	f, err := os.CreateTemp(s.opts.TempDir, tempPrefix+"*."+string(format))
	if err != nil {
		return "", 0, "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(f.Name())
		}
	}()

	h := sha256.New()
	size, err = io.Copy(io.MultiWriter(f, h), io.LimitReader(body, s.opts.MaxFileSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, "", fmt.Errorf("store upload: %w", err)
	}
	if size > s.opts.MaxFileSize {
		return "", 0, "", fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.opts.MaxFileSize)
	}
	if size == 0 {
		return "", 0, "", ErrEmptyFile
	}
	return f.Name(), size, hex.EncodeToString(h.Sum(nil)), nil
}

// hashFile returns the hex SHA-256 of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Job returns one job.
func (s *Service) Job(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

// Jobs lists jobs, newest first.
func (s *Service) Jobs(ctx context.Context, q JobQuery) ([]Job, error) {
	return s.store.ListJobs(ctx, q)
}

// Findings returns one page of a job's findings.
func (s *Service) Findings(ctx context.Context, id uuid.UUID, q FindingQuery) (*FindingPage, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.sink.List(ctx, id, q)
}

// Pause asks the worker running the job to stop after the current row.
// The job turns PAUSED once the worker reaches the row boundary.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: cannot pause a %s job", ErrInvalidTransition, job.Status)
	}
	if err := s.signals.Raise(ctx, id, SignalPause); err != nil {
		return nil, fmt.Errorf("raise pause: %w", err)
	}
	logging.WithFields(ctx, "job_id", id).Info("pause requested")
	return job, nil
}

// Resume queues a PAUSED job to continue from its checkpoint.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(job.Status, StatusResuming) {
		return nil, fmt.Errorf("%w: cannot resume a %s job", ErrInvalidTransition, job.Status)
	}
	if job.TempPath == "" {
		return nil, ErrSourceMissing
	}
	if _, err := os.Stat(job.TempPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceMissing, err)
	}

	expected := job.Status
	if err := job.Transition(StatusResuming, s.now().UTC()); err != nil {
		return nil, err
	}
	job.LastError = ""
	if err := s.store.UpdateJob(ctx, job, expected); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, job); err != nil {
		return nil, err
	}

	logging.WithFields(ctx, "job_id", id, "offset", job.Processed).Info("resume requested")
	return job, nil
}

// Retry re-runs the unprocessed rows of a FAILED job. body must be
// byte-identical to the original upload.
func (s *Service) Retry(ctx context.Context, id uuid.UUID, body io.Reader) (*Job, error) {
	if body == nil {
		return nil, ErrNoFile
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(job.Status, StatusRetrying) {
		return nil, fmt.Errorf("%w: cannot retry a %s job", ErrInvalidTransition, job.Status)
	}
	if job.Processed >= job.Total {
		return nil, ErrNothingToRetry
	}

	path, _, hash, err := s.storeTemp(body, job.Format)
	if err != nil {
		return nil, err
	}
	if hash != job.ContentHash {
		os.Remove(path)
		return nil, ErrSourceChanged
	}

	old := job.TempPath
	job.TempPath = path
	job.LastError = ""
	if err := job.Transition(StatusRetrying, s.now().UTC()); err != nil {
		os.Remove(path)
		return nil, err
	}
	if err := s.store.UpdateJob(ctx, job, StatusFailed); err != nil {
		os.Remove(path)
		return nil, err
	}
	if old != "" && old != path {
		os.Remove(old)
	}
	if err := s.enqueue(ctx, job); err != nil {
		return nil, err
	}

	logging.WithFields(ctx, "job_id", id, "offset", job.Processed).Info("retry requested")
	return job, nil
}

// Cancel stops a job. A running job is signalled and stops at the next row
// boundary; a queued or paused job is cancelled immediately.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Job, error) {
	for attempt := 0; attempt < 2; attempt++ {
		job, err := s.store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}

		if job.Status == StatusProcessing {
			if err := s.signals.Raise(ctx, id, SignalCancel); err != nil {
				return nil, fmt.Errorf("raise cancel: %w", err)
			}
			logging.WithFields(ctx, "job_id", id).Info("cancel requested")
			return job, nil
		}

		expected := job.Status
		if err := job.Transition(StatusCancelled, s.now().UTC()); err != nil {
			return nil, err
		}
		err = s.store.UpdateJob(ctx, job, expected)
		if errors.Is(err, ErrStaleJob) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.releaseSource(ctx, job)
		s.finishRun(job, 0)
		logging.WithFields(ctx, "job_id", id, "from", expected).Info("job cancelled")
		return job, nil
	}
	return nil, ErrStaleJob
}

// enqueue registers progress tracking and hands the job to the workers.
func (s *Service) enqueue(ctx context.Context, job *Job) error {
	s.track(job)
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// releaseSource deletes the temp file of a job that will never read it again.
func (s *Service) releaseSource(ctx context.Context, job *Job) {
	if job.TempPath == "" {
		return
	}
	if err := os.Remove(job.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WithFields(ctx, "job_id", job.ID, "path", job.TempPath).
			Warn("remove temp file failed", "error", err)
	}
}

// SubscribeProgress returns a channel of progress snapshots for a job.
// The channel is closed when the run ends or ctx is done. A job that is not
// queued or running yields its stored state once.
func (s *Service) SubscribeProgress(ctx context.Context, id uuid.UUID) (<-chan Progress, error) {
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()

	if !ok {
		job, err := s.store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		ch := make(chan Progress, 1)
		p := snapshot(job, 0)
		p.Done = !job.Status.Runnable() && job.Status != StatusProcessing
		ch <- p
		close(ch)
		return ch, nil
	}

	ch := make(chan Progress, 10)

	run.mu.Lock()
	// Send current progress immediately
	ch <- run.progress
	if run.done {
		close(ch)
		run.mu.Unlock()
		return ch, nil
	}
	run.listeners = append(run.listeners, ch)
	run.mu.Unlock()

	go func() {
		<-ctx.Done()
		run.unsubscribe(ch)
	}()
	return ch, nil
}

func snapshot(job *Job, bytesRead int64) Progress {
	return Progress{
		JobID:      job.ID,
		Status:     job.Status,
		Counters:   job.Counters,
		BytesRead:  bytesRead,
		BytesTotal: job.FileSize,
	}
}

// track creates or resets the progress entry of a job about to be queued.
func (s *Service) track(job *Job) *activeRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[job.ID]
	if !ok || run.isDone() {
		run = &activeRun{}
		s.runs[job.ID] = run
	}
	run.mu.Lock()
	run.progress = snapshot(job, 0)
	run.mu.Unlock()
	return run
}

// finishRun sends the final snapshot, closes listeners, and forgets the run
// after the retention period.
func (s *Service) finishRun(job *Job, bytesRead int64) {
	s.mu.RLock()
	run, ok := s.runs[job.ID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	p := snapshot(job, bytesRead)
	p.Done = true
	run.publish(p)
	run.close()

	time.AfterFunc(s.opts.ProgressRetention, func() {
		s.mu.Lock()
		if s.runs[job.ID] == run {
			delete(s.runs, job.ID)
		}
		s.mu.Unlock()
	})
}

// publish stores p and sends it to all listeners.
func (r *activeRun) publish(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress = p
	for _, ch := range r.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

func (r *activeRun) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.listeners {
		close(ch)
	}
	r.listeners = nil
	r.done = true
}

func (r *activeRun) isDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *activeRun) unsubscribe(ch chan Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, l := range r.listeners {
		if l == ch {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Template builds the import template for a catalog. A nil catalog gets the
// illustrative attribute columns.
func (s *Service) Template(ctx context.Context, catalogID *int64) (*Template, error) {
	return BuildTemplate(ctx, s.store, catalogID, s.opts.RequiredFields)
}
