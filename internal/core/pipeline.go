package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/productimport/internal/logging"
)

// outcome is how a run's row loop ended.
type outcome int

const (
	outcomeFinished outcome = iota
	outcomePaused
	outcomeCancelled
	outcomeAborted
	outcomeInterrupted
)

// InterruptedReason is the LastError of a job paused by shutdown or restart.
const InterruptedReason = "interrupted by shutdown"

// jobRun is the state of one pass over a job's source.
type jobRun struct {
	svc       *Service
	job       *Job
	progress  *activeRun
	log       *slog.Logger
	validator *Validator
	resolver  *Resolver
	writer    *Writer
	decoder   Decoder

	abortErr     error
	sinkFailures int
}

// RunWorkers starts n workers that take job ids from the queue and run them.
// It returns when ctx is done and every worker has finished its current row.
func (s *Service) RunWorkers(ctx context.Context, n int) error {
	if n <= 0 {
		n = s.limiter.Status().MaxConcurrent
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		worker := i
		g.Go(func() error {
			s.work(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) work(ctx context.Context, worker int) {
	log := slog.Default().With("worker", worker)
	log.Debug("worker started")

	for {
		id, err := s.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("worker stopped")
				return
			}
			log.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if !s.limiter.TryAcquire() {
			log.Debug("all run slots busy, waiting", "job_id", id)
			if err := s.limiter.Acquire(ctx); err != nil {
				s.requeue(ctx, log, id)
				if ctx.Err() != nil {
					return
				}
				continue
			}
		}

		if err := s.Run(ctx, id); err != nil {
			log.Error("run failed", "job_id", id, "error", err)
		}
		s.limiter.Release()
	}
}

// requeue hands a job back so another worker or process picks it up.
func (s *Service) requeue(ctx context.Context, log *slog.Logger, id uuid.UUID) {
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), id); err != nil {
		log.Error("requeue failed", "job_id", id, "error", err)
	}
}

// Run executes a queued job until its source is exhausted, a pause or cancel
// signal arrives, a system finding aborts it, or ctx is done. Rows already
// started always finish. Run returns nil without work when the job is not
// runnable or another worker claimed it first.
func (s *Service) Run(ctx context.Context, id uuid.UUID) (err error) {
	ctx = logging.WithJobID(ctx, id.String())
	log := logging.FromContext(ctx)

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Runnable() {
		log.Debug("job not runnable, skipping", "status", job.Status)
		return nil
	}

	from := job.Status
	if err := job.Transition(StatusProcessing, s.now().UTC()); err != nil {
		return err
	}
	if err := s.store.UpdateJob(ctx, job, from); err != nil {
		if errors.Is(err, ErrStaleJob) {
			log.Debug("job claimed by another worker")
			return nil
		}
		return fmt.Errorf("claim job: %w", err)
	}

	// Control requests raised before this run started do not apply to it.
	if _, err := s.signals.Take(ctx, id); err != nil {
		log.Warn("clear stale signal failed", "error", err)
	}

	r := &jobRun{
		svc:      s,
		job:      job,
		progress: s.track(job),
		log:      log,
		validator: NewValidator(s.store, ValidatorOptions{
			RequiredFields:   s.opts.RequiredFields,
			DefaultCatalogID: job.CatalogID,
		}),
		resolver: NewResolver(s.store, s.opts.ResolveAttempts),
		writer:   NewWriter(s.store),
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic in import run", "panic", p)
			r.abortErr = fmt.Errorf("internal error: %v", p)
			err = s.finalize(ctx, r, outcomeAborted)
		}
	}()

	log.Info("import run started",
		"from", from,
		"offset", job.Processed,
		"total", job.Total,
		"file", job.FileName,
	)
	out := r.execute(ctx, from)
	return s.finalize(ctx, r, out)
}

func (r *jobRun) execute(ctx context.Context, from JobStatus) outcome {
	job := r.job

	if from != StatusPending {
		hash, err := hashFile(job.TempPath)
		if err != nil {
			return r.abort(ctx, 0, CodeSourceUnreadable, fmt.Errorf("%w: %v", ErrSourceMissing, err))
		}
		if hash != job.ContentHash {
			return r.abort(ctx, 0, CodeSourceChanged, ErrSourceChanged)
		}
	}

	opts := DecoderOptions{
		Format:          job.Format,
		Charset:         job.Charset,
		Size:            job.FileSize,
		Skip:            job.Processed,
		RequiredColumns: r.validator.RequiredFields(),
	}

	if job.Total == 0 && job.Processed == 0 {
		job.Total = r.countRows(opts)
		if err := r.checkpoint(ctx); err != nil {
			return r.abort(ctx, 0, CodeWriteFailed, err)
		}
		r.publish()
	}

	f, err := os.Open(job.TempPath)
	if err != nil {
		return r.abort(ctx, 0, CodeSourceUnreadable, fmt.Errorf("%w: %v", ErrSourceMissing, err))
	}
	defer f.Close()

	dec, err := NewDecoder(f, opts)
	if err != nil {
		return r.abortDecode(ctx, err)
	}
	defer dec.Close()
	r.decoder = dec

	for {
		if out, stop := r.control(ctx); stop {
			return out
		}

		row, err := dec.Next()
		if err == io.EOF {
			return outcomeFinished
		}
		if err != nil {
			return r.abortDecode(ctx, err)
		}

		ok, err := r.processRow(ctx, row)
		if err != nil {
			return r.abort(ctx, row.Line, CodeWriteFailed, err)
		}
		// A written row already saved its counters inside the product transaction.
		if !ok {
			job.RecordRow(false)
			if err := r.checkpoint(ctx); err != nil {
				return r.abort(ctx, row.Line, CodeWriteFailed, err)
			}
		}
		r.publish()
	}
}

// countRows is the pre-pass that sizes the job. Structural errors are left
// for the main pass to report; the rows counted before one still count.
func (r *jobRun) countRows(opts DecoderOptions) int {
	f, err := os.Open(r.job.TempPath)
	if err != nil {
		return 0
	}
	defer f.Close()

	n, err := CountRows(f, opts)
	if err != nil {
		r.log.Debug("row count stopped early", "rows", n, "error", err)
	}
	return n
}

// control checks for shutdown and pending signals between rows.
func (r *jobRun) control(ctx context.Context) (outcome, bool) {
	if ctx.Err() != nil {
		return outcomeInterrupted, true
	}
	sig, err := r.svc.signals.Take(ctx, r.job.ID)
	if err != nil {
		r.log.Warn("read control signal failed", "error", err)
		return 0, false
	}
	switch sig {
	case SignalCancel:
		return outcomeCancelled, true
	case SignalPause:
		return outcomePaused, true
	}
	return 0, false
}

// processRow runs validate, resolve, materialize, and write for one row.
// It reports whether a product was created. A non-nil error means the row's
// progress could not be saved and the run must stop.
func (r *jobRun) processRow(ctx context.Context, row Row) (bool, error) {
	rowCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.svc.opts.RowTimeout)
	defer cancel()

	p, findings := r.validator.Validate(rowCtx, row)
	ok := !HasBlocking(findings)
	if ok {
		f, err := r.commit(rowCtx, row, p)
		if err != nil {
			return false, err
		}
		if f != nil {
			findings = append(findings, *f)
			ok = false
		}
	}

	r.record(rowCtx, findings...)
	if !ok {
		r.log.Debug("row rejected", "line", row.Line, "findings", len(findings))
	}
	return ok, nil
}

// commit resolves references and writes the product together with the
// advanced job counters. A non-nil finding means nothing was written for the
// row; a non-nil error means the counters could not be saved.
func (r *jobRun) commit(ctx context.Context, row Row, p *ProductRow) (*Finding, error) {
	refs, err := r.resolver.ResolveRow(ctx, p)
	if errors.Is(err, ErrCategoryCycle) {
		return &Finding{
			Row:      row.Line,
			Field:    ColCategoryName,
			Value:    row.Get(ColCategoryName),
			Code:     CodeCategoryCycle,
			Message:  err.Error(),
			Type:     FindingValidation,
			Severity: SeverityError,
		}, nil
	}
	if err != nil {
		return &Finding{
			Row:      row.Line,
			Code:     CodeResolveFailed,
			Message:  err.Error(),
			Type:     FindingDatabase,
			Severity: SeverityError,
		}, nil
	}

	links, err := MaterializeAttributes(ctx, r.resolver, p.Attributes)
	if err != nil {
		return &Finding{
			Row:      row.Line,
			Field:    "attributes",
			Code:     CodeResolveFailed,
			Message:  err.Error(),
			Type:     FindingDatabase,
			Severity: SeverityError,
		}, nil
	}

	next := *r.job
	next.RecordRow(true)
	next.UpdatedAt = r.svc.now().UTC()

	_, err = r.writer.Write(ctx, ProductInput{
		JobID:    r.job.ID,
		Row:      p,
		Refs:     refs,
		Links:    links,
		Progress: &next,
	})
	if errors.Is(err, ErrCheckpoint) {
		return nil, err
	}
	if err != nil {
		return &Finding{
			Row:      row.Line,
			Field:    ColSKU,
			Value:    p.SKU,
			Code:     CodeWriteFailed,
			Message:  err.Error(),
			Type:     FindingProcessing,
			Severity: SeverityError,
		}, nil
	}

	*r.job = next
	return nil, nil
}

func (r *jobRun) record(ctx context.Context, findings ...Finding) {
	if err := r.svc.sink.Record(ctx, r.job.ID, findings...); err != nil {
		r.sinkFailures++
		r.log.Error("record findings failed", "count", len(findings), "error", err)
	}
}

// abort records a job-fatal system finding.
func (r *jobRun) abort(ctx context.Context, line int, code string, err error) outcome {
	r.abortErr = err
	r.record(context.WithoutCancel(ctx), Finding{
		Row:      line,
		Code:     code,
		Message:  err.Error(),
		Type:     FindingSystem,
		Severity: SeverityError,
	})
	return outcomeAborted
}

func (r *jobRun) abortDecode(ctx context.Context, err error) outcome {
	var (
		he *HeaderError
		de *DecodeError
	)
	switch {
	case errors.As(err, &he):
		return r.abort(ctx, 1, CodeInvalidHeader, err)
	case errors.As(err, &de):
		return r.abort(ctx, de.Line, CodeMalformedRecord, err)
	default:
		return r.abort(ctx, 0, CodeSourceUnreadable, err)
	}
}

func (r *jobRun) checkpoint(ctx context.Context) error {
	r.job.UpdatedAt = r.svc.now().UTC()
	if err := r.svc.store.UpdateJob(context.WithoutCancel(ctx), r.job, StatusProcessing); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (r *jobRun) bytesRead() int64 {
	if r.decoder == nil {
		return 0
	}
	return r.decoder.BytesRead()
}

func (r *jobRun) publish() {
	r.progress.publish(snapshot(r.job, r.bytesRead()))
}

// finalize moves the job out of PROCESSING according to the loop outcome.
func (s *Service) finalize(ctx context.Context, r *jobRun, out outcome) error {
	ctx = context.WithoutCancel(ctx)
	job := r.job

	var to JobStatus
	switch out {
	case outcomeFinished:
		job.Total = job.Processed
		to = job.FinalStatus(false, s.opts.PartialSuccessCompletes)
	case outcomeAborted:
		to = job.FinalStatus(true, s.opts.PartialSuccessCompletes)
		job.LastError = r.abortErr.Error()
	case outcomePaused:
		to = StatusPaused
	case outcomeInterrupted:
		to = StatusPaused
		job.LastError = InterruptedReason
	case outcomeCancelled:
		to = StatusCancelled
	}

	if r.sinkFailures > 0 {
		r.record(ctx, Finding{
			Code:     CodeFindingsUnsaved,
			Message:  fmt.Sprintf("%d batches of findings could not be saved", r.sinkFailures),
			Type:     FindingSystem,
			Severity: SeverityWarning,
		})
		if job.LastError == "" {
			job.LastError = "some findings could not be saved"
		}
	}

	if err := job.CheckCounters(); err != nil {
		r.log.Error("counter invariant violated", "error", err)
	}

	if err := job.Transition(to, s.now().UTC()); err != nil {
		return err
	}
	if err := s.store.UpdateJob(ctx, job, StatusProcessing); err != nil {
		return fmt.Errorf("finalize job as %s: %w", to, err)
	}

	if to.Terminal() {
		s.releaseSource(ctx, job)
	}
	s.finishRun(job, r.bytesRead())

	r.log.Info("import run finished",
		"status", job.Status,
		"total", job.Total,
		"processed", job.Processed,
		"success", job.Success,
		"failed", job.Failed,
		"created", r.resolver.Created(),
	)
	return nil
}
