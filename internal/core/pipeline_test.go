package core_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/productimport/internal/core"
	"github.com/JonMunkholm/productimport/internal/memstore"
	"github.com/JonMunkholm/productimport/internal/queue"
)

const header = "product_name,product_description,sku,cost_price,regular_price,sale_price,discount_percentage,category_name,catalog_name,supplier_name,attr_color\n"

func line(name, sku, cost, regular, sale, discount, colors string) string {
	return strings.Join([]string{name, "desc " + name, sku, cost, regular, sale, discount, "Lighting", "Home", "Acme", `"` + colors + `"`}, ",") + "\n"
}

type env struct {
	svc   *core.Service
	store *memstore.Store
	q     *queue.Memory
	dir   string
}

func newEnv(t *testing.T, opts core.Options) *env {
	t.Helper()
	store := memstore.New()
	q := queue.NewMemory(64)
	if opts.TempDir == "" {
		opts.TempDir = t.TempDir()
	}
	svc, err := core.NewService(store, q, q, opts)
	require.NoError(t, err)
	return &env{svc: svc, store: store, q: q, dir: opts.TempDir}
}

func (e *env) submit(t *testing.T, name, body string) *core.Job {
	t.Helper()
	job, err := e.svc.Submit(context.Background(), core.SubmitRequest{FileName: name, Body: strings.NewReader(body)})
	require.NoError(t, err)
	require.Equal(t, core.StatusPending, job.Status)
	return job
}

func (e *env) run(t *testing.T, id uuid.UUID) *core.Job {
	t.Helper()
	require.NoError(t, e.svc.Run(context.Background(), id))
	job, err := e.svc.Job(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (e *env) findings(t *testing.T, id uuid.UUID) []core.Finding {
	t.Helper()
	page, err := e.svc.Findings(context.Background(), id, core.FindingQuery{})
	require.NoError(t, err)
	return page.Findings
}

func skus(store *memstore.Store) []string {
	var out []string
	for _, p := range store.Products() {
		out = append(out, p.SKU)
	}
	sort.Strings(out)
	return out
}

func TestPipeline_MixedRows(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "products.csv", header+
		line("Desk Lamp", "LAMP-1", "10", "100", "80", "", "Red, Blue, Red")+
		line("Floor Lamp", "", "10", "100", "80", "", "")+
		line("Wall Lamp", "LAMP-3", "10", "100", "120", "", ""))

	job = e.run(t, job.ID)

	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, core.Counters{Total: 3, Processed: 3, Success: 1, Failed: 2}, job.Counters)
	assert.NotNil(t, job.CompletedAt)

	findings := e.findings(t, job.ID)
	require.Len(t, findings, 2)
	assert.Equal(t, 3, findings[0].Row)
	assert.Equal(t, core.CodeRequired, findings[0].Code)
	assert.Equal(t, 4, findings[1].Row)
	assert.Equal(t, core.CodeSaleAboveRegular, findings[1].Code)

	p, ok := e.store.ProductBySKU("LAMP-1")
	require.True(t, ok)
	assert.Equal(t, "desk-lamp", p.Slug)
	assert.Equal(t, job.ID, p.JobID)
	assert.Len(t, e.store.Links(p.ID), 2, "duplicate attribute values link once")

	_, err := os.Stat(job.TempPath)
	assert.True(t, os.IsNotExist(err), "terminal job releases its source")
}

func TestPipeline_MissingDescriptionAndRepeatedSKU(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "products.csv", header+
		line("Desk Lamp", "LAMP-1", "10", "100", "80", "", "Red")+
		"Floor Lamp,,LAMP-2,10,100,80,,Lighting,Home,Acme,\n"+
		line("Desk Lamp Copy", "LAMP-1", "10", "100", "80", "", ""))

	job = e.run(t, job.ID)

	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, core.Counters{Total: 3, Processed: 3, Success: 1, Failed: 2}, job.Counters)
	assert.Equal(t, []string{"LAMP-1"}, skus(e.store))

	findings := e.findings(t, job.ID)
	require.Len(t, findings, 2)
	for i, want := range []struct {
		row   int
		field string
		code  string
	}{
		{3, core.ColProductDescription, core.CodeRequired},
		{4, core.ColSKU, core.CodeDuplicateSKU},
	} {
		assert.Equal(t, want.row, findings[i].Row)
		assert.Equal(t, want.field, findings[i].Field)
		assert.Equal(t, want.code, findings[i].Code)
		assert.Equal(t, core.FindingValidation, findings[i].Type)
		assert.Equal(t, core.SeverityError, findings[i].Severity)
	}
}

func TestPipeline_PartialSuccessCompletes(t *testing.T) {
	e := newEnv(t, core.Options{PartialSuccessCompletes: true})
	job := e.submit(t, "products.csv", header+
		line("Desk Lamp", "LAMP-1", "10", "100", "80", "", "")+
		line("Wall Lamp", "LAMP-3", "10", "100", "120", "", ""))

	job = e.run(t, job.ID)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Equal(t, 1, job.Failed)
}

func TestPipeline_DuplicateSKUWithinFile(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "products.csv", header+
		line("Desk Lamp", "LAMP-1", "10", "100", "80", "", "")+
		line("Desk Lamp", "lamp-1", "10", "100", "80", "", ""))

	job = e.run(t, job.ID)
	assert.Equal(t, 1, job.Success)
	assert.Equal(t, 1, job.Failed)

	findings := e.findings(t, job.ID)
	require.Len(t, findings, 1)
	assert.Equal(t, core.CodeDuplicateSKU, findings[0].Code)
	assert.Equal(t, 3, findings[0].Row)
}

func TestPipeline_SlugCollisionGetsSuffix(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "products.csv", header+
		line("Desk Lamp", "LAMP-1", "10", "100", "80", "", "")+
		line("Desk Lamp", "LAMP-2", "10", "100", "80", "", ""))

	job = e.run(t, job.ID)
	require.Equal(t, core.StatusCompleted, job.Status)

	second, ok := e.store.ProductBySKU("LAMP-2")
	require.True(t, ok)
	assert.Equal(t, "desk-lamp-2", second.Slug)
}

func TestPipeline_DiscountChecks(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "products.csv", header+
		line("Desk Lamp", "LAMP-1", "10", "100", "80", "15", "")+
		line("Wall Lamp", "LAMP-2", "10", "100", "120", "", ""))

	job = e.run(t, job.ID)
	assert.Equal(t, 1, job.Success, "a warning does not block the row")
	assert.Equal(t, 1, job.Failed)

	findings := e.findings(t, job.ID)
	require.Len(t, findings, 2)
	assert.Equal(t, core.CodeDiscountMismatch, findings[0].Code)
	assert.Equal(t, core.SeverityWarning, findings[0].Severity)
	assert.Equal(t, core.CodeSaleAboveRegular, findings[1].Code)
	assert.Equal(t, core.SeverityError, findings[1].Severity)
}

func TestPipeline_CategoryCycleRejectsRow(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "products.csv",
		"product_name,product_description,sku,cost_price,regular_price,sale_price,category_name,catalog_name,supplier_name\n"+
			"Desk Lamp,d,LAMP-1,10,100,80,Home > Lighting,Home,Acme\n"+
			"Wall Lamp,d,LAMP-2,10,100,80,Lighting > Home,Home,Acme\n")

	job = e.run(t, job.ID)
	assert.Equal(t, 1, job.Success)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, []string{"LAMP-1"}, skus(e.store))

	findings := e.findings(t, job.ID)
	require.Len(t, findings, 1)
	assert.Equal(t, 3, findings[0].Row)
	assert.Equal(t, core.CodeCategoryCycle, findings[0].Code)
	assert.Equal(t, core.FindingValidation, findings[0].Type)
}

func TestPipeline_WriteFailureRollsBackRow(t *testing.T) {
	e := newEnv(t, core.Options{})
	e.store.OnCall = func(op string) error {
		if op == "LinkAttribute" {
			return errors.New("link table unavailable")
		}
		return nil
	}
	job := e.submit(t, "products.csv", header+line("Desk Lamp", "LAMP-1", "10", "100", "80", "", "Red"))

	job = e.run(t, job.ID)
	assert.Equal(t, 1, job.Failed)
	assert.Empty(t, e.store.Products(), "product insert is rolled back with its links")

	findings := e.findings(t, job.ID)
	require.Len(t, findings, 1)
	assert.Equal(t, core.CodeWriteFailed, findings[0].Code)
	assert.Equal(t, core.FindingProcessing, findings[0].Type)
}

func TestPipeline_StoredProgressMatchesCommittedRows(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "products.csv", header+
		line("Desk Lamp", "LAMP-1", "10", "100", "80", "", "Red")+
		line("Wall Lamp", "LAMP-2", "10", "100", "120", "", "")+
		line("Floor Lamp", "LAMP-3", "10", "100", "80", "", "Blue"))

	// SKUExists runs at the start of every row, outside any transaction.
	var seen []core.Counters
	e.store.OnCall = func(op string) error {
		if op != "SKUExists" {
			return nil
		}
		stored, err := e.store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Len(t, e.store.Products(), stored.Success, "stored offset lags committed products")
		seen = append(seen, stored.Counters)
		return nil
	}

	job = e.run(t, job.ID)
	assert.Equal(t, core.Counters{Total: 3, Processed: 3, Success: 2, Failed: 1}, job.Counters)
	require.Len(t, seen, 3)
	assert.Equal(t, core.Counters{Total: 3, Processed: 2, Success: 1, Failed: 1}, seen[2])
}

func TestPipeline_CheckpointFailureAbortsRun(t *testing.T) {
	e := newEnv(t, core.Options{})
	e.store.OnCall = func(op string) error {
		if op == "Checkpoint" {
			return errors.New("connection reset")
		}
		return nil
	}
	job := e.submit(t, "products.csv", header+line("Desk Lamp", "LAMP-1", "10", "100", "80", "", "Red"))

	job = e.run(t, job.ID)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Zero(t, job.Processed)
	assert.Empty(t, e.store.Products())
	assert.Contains(t, job.LastError, "save job progress")

	findings := e.findings(t, job.ID)
	require.Len(t, findings, 1)
	assert.Equal(t, core.FindingSystem, findings[0].Type)
	assert.Equal(t, core.CodeWriteFailed, findings[0].Code)
}

func TestPipeline_MissingHeaderColumnAborts(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "products.csv", "product_name,sku\nLamp,L-1\n")

	job = e.run(t, job.ID)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Zero(t, job.Processed)
	assert.Contains(t, job.LastError, "missing required columns")

	findings := e.findings(t, job.ID)
	require.Len(t, findings, 1)
	assert.Equal(t, core.CodeInvalidHeader, findings[0].Code)
	assert.Equal(t, core.FindingSystem, findings[0].Type)
}

func TestPipeline_ConfiguredRequiredFieldsDriveHeaderCheck(t *testing.T) {
	e := newEnv(t, core.Options{RequiredFields: []string{core.ColProductName, core.ColSKU}})
	job := e.submit(t, "products.csv", "product_name,sku\nLamp,L-1\n")

	job = e.run(t, job.ID)
	assert.Equal(t, 1, job.Processed)
	for _, f := range e.findings(t, job.ID) {
		assert.NotEqual(t, core.CodeInvalidHeader, f.Code)
	}
}

func TestPipeline_MalformedRecordAborts(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "products.csv", header+
		line("Desk Lamp", "LAMP-1", "10", "100", "80", "", "")+
		"Broken,\"unterminated\n")

	job = e.run(t, job.ID)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Processed)
	assert.Equal(t, 1, job.Success)
	assert.Contains(t, job.LastError, "malformed record at line 3")

	findings := e.findings(t, job.ID)
	require.Len(t, findings, 1)
	assert.Equal(t, core.CodeMalformedRecord, findings[0].Code)
	assert.Equal(t, 3, findings[0].Row)
}

func TestPipeline_PauseResumeMatchesStraightRun(t *testing.T) {
	body := header
	for i := 1; i <= 5; i++ {
		sku := "SKU-" + string(rune('0'+i))
		body += line("Lamp "+sku, sku, "10", "100", "80", "", "Red")
	}

	straight := newEnv(t, core.Options{})
	sj := straight.run(t, straight.submit(t, "p.csv", body).ID)
	require.Equal(t, core.StatusCompleted, sj.Status)

	e := newEnv(t, core.Options{})
	job := e.submit(t, "p.csv", body)
	inserts := 0
	e.store.OnCall = func(op string) error {
		if op == "InsertProduct" {
			inserts++
			if inserts == 2 {
				require.NoError(t, e.q.Raise(context.Background(), job.ID, core.SignalPause))
			}
		}
		return nil
	}

	paused := e.run(t, job.ID)
	require.Equal(t, core.StatusPaused, paused.Status)
	assert.Equal(t, 2, paused.Processed)
	assert.Equal(t, 5, paused.Total)
	assert.NotNil(t, paused.PausedAt)

	_, err := os.Stat(paused.TempPath)
	require.NoError(t, err, "paused job keeps its source")

	resumed, err := e.svc.Resume(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusResuming, resumed.Status)

	done := e.run(t, job.ID)
	assert.Equal(t, core.StatusCompleted, done.Status)
	assert.Equal(t, sj.Counters, done.Counters)
	assert.Equal(t, skus(straight.store), skus(e.store))
	assert.Len(t, e.store.Options(), 1)
}

func TestPipeline_CancelWhileRunning(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "p.csv", header+
		line("A", "A-1", "1", "2", "2", "", "")+
		line("B", "B-1", "1", "2", "2", "", "")+
		line("C", "C-1", "1", "2", "2", "", ""))

	e.store.OnCall = func(op string) error {
		if op == "InsertProduct" {
			// Pause then cancel: cancel must win.
			require.NoError(t, e.q.Raise(context.Background(), job.ID, core.SignalCancel))
			require.NoError(t, e.q.Raise(context.Background(), job.ID, core.SignalPause))
		}
		return nil
	}

	job = e.run(t, job.ID)
	assert.Equal(t, core.StatusCancelled, job.Status)
	assert.Equal(t, 1, job.Processed)
	assert.NotNil(t, job.CanceledAt)
	assert.Equal(t, []string{"A-1"}, skus(e.store))
}

func TestPipeline_ShutdownPausesJob(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "p.csv", header+line("A", "A-1", "1", "2", "2", "", ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.svc.Run(ctx, job.ID))

	job, err := e.svc.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaused, job.Status)
	assert.Equal(t, core.InterruptedReason, job.LastError)
	assert.Equal(t, 1, job.Total)
	assert.Zero(t, job.Processed)
}

func TestPipeline_ResumeDetectsChangedSource(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "p.csv", header+line("A", "A-1", "1", "2", "2", "", ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.svc.Run(ctx, job.ID))
	job, err := e.svc.Job(context.Background(), job.ID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(job.TempPath, []byte(header), 0o600))

	_, err = e.svc.Resume(context.Background(), job.ID)
	require.NoError(t, err)

	job = e.run(t, job.ID)
	assert.Equal(t, core.StatusFailed, job.Status)
	findings := e.findings(t, job.ID)
	require.Len(t, findings, 1)
	assert.Equal(t, core.CodeSourceChanged, findings[0].Code)
}

func TestPipeline_RunSkipsClaimedJob(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "p.csv", header+line("A", "A-1", "1", "2", "2", "", ""))

	_, err := e.svc.Cancel(context.Background(), job.ID)
	require.NoError(t, err)

	job = e.run(t, job.ID)
	assert.Equal(t, core.StatusCancelled, job.Status)
	assert.Empty(t, e.store.Products())
}

func TestPipeline_ProgressStream(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "p.csv", header+
		line("A", "A-1", "1", "2", "2", "", "")+
		line("B", "B-1", "1", "2", "2", "", ""))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := e.svc.SubscribeProgress(ctx, job.ID)
	require.NoError(t, err)

	e.run(t, job.ID)

	var events []core.Progress
	for p := range ch {
		events = append(events, p)
	}
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Done)
	assert.Equal(t, core.StatusCompleted, last.Status)
	assert.Equal(t, 2, last.Processed)
	assert.Equal(t, 100, last.Percent())

	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Processed, events[i-1].Processed)
	}

	// A finished run still answers new subscribers, once.
	again, err := e.svc.SubscribeProgress(context.Background(), job.ID)
	require.NoError(t, err)
	p, ok := <-again
	require.True(t, ok)
	assert.True(t, p.Done)
	_, ok = <-again
	assert.False(t, ok)
}

func TestService_SubmitErrors(t *testing.T) {
	e := newEnv(t, core.Options{MaxFileSize: 32})
	ctx := context.Background()

	_, err := e.svc.Submit(ctx, core.SubmitRequest{FileName: "a.csv"})
	assert.ErrorIs(t, err, core.ErrNoFile)

	_, err = e.svc.Submit(ctx, core.SubmitRequest{FileName: "a.pdf", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)

	_, err = e.svc.Submit(ctx, core.SubmitRequest{FileName: "a.csv", Body: strings.NewReader("")})
	assert.ErrorIs(t, err, core.ErrEmptyFile)

	_, err = e.svc.Submit(ctx, core.SubmitRequest{FileName: "a.csv", Body: strings.NewReader(strings.Repeat("x", 33))})
	assert.ErrorIs(t, err, core.ErrFileTooLarge)

	entries, err := os.ReadDir(e.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads leave no temp files")
}

func TestService_SubmitQueuesJob(t *testing.T) {
	e := newEnv(t, core.Options{})
	job := e.submit(t, "dir/Products.CSV", header)

	assert.Equal(t, "Products.CSV", job.FileName)
	assert.Equal(t, core.FormatCSV, job.Format)
	assert.Len(t, job.ContentHash, 64)
	assert.Equal(t, 1, e.q.Len())

	id, err := e.q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)
}

func TestService_LifecycleErrors(t *testing.T) {
	e := newEnv(t, core.Options{})
	ctx := context.Background()
	job := e.submit(t, "p.csv", header+line("A", "A-1", "1", "2", "2", "", ""))

	_, err := e.svc.Pause(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	_, err = e.svc.Resume(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	_, err = e.svc.Retry(ctx, job.ID, strings.NewReader("x"))
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	_, err = e.svc.Job(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	cancelled, err := e.svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, cancelled.Status)
	_, err = os.Stat(cancelled.TempPath)
	assert.True(t, os.IsNotExist(err))

	_, err = e.svc.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestService_PauseRunningJobRaisesSignal(t *testing.T) {
	e := newEnv(t, core.Options{})
	ctx := context.Background()
	job := e.submit(t, "p.csv", header)

	stored, err := e.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Transition(core.StatusProcessing, time.Now()))
	require.NoError(t, e.store.UpdateJob(ctx, stored, core.StatusPending))

	_, err = e.svc.Pause(ctx, job.ID)
	require.NoError(t, err)
	_, err = e.svc.Cancel(ctx, job.ID)
	require.NoError(t, err)

	sig, err := e.q.Take(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SignalCancel, sig)
}

func TestService_Retry(t *testing.T) {
	e := newEnv(t, core.Options{})
	ctx := context.Background()
	body := header +
		line("A", "A-1", "1", "2", "2", "", "") +
		line("B", "B-1", "1", "2", "2", "", "") +
		line("C", "C-1", "1", "2", "2", "", "")
	job := e.submit(t, "p.csv", body)

	// Row 1 commits, then saving progress with row 2 fails.
	checkpoints := 0
	e.store.OnCall = func(op string) error {
		if op == "Checkpoint" {
			checkpoints++
			if checkpoints == 2 {
				return errors.New("connection reset")
			}
		}
		return nil
	}

	failed := e.run(t, job.ID)
	require.Equal(t, core.StatusFailed, failed.Status)
	require.Equal(t, 1, failed.Processed)
	require.Equal(t, 3, failed.Total)
	require.Equal(t, []string{"A-1"}, skus(e.store), "row 2 is rolled back with its progress")
	e.store.OnCall = nil

	_, err := e.svc.Retry(ctx, job.ID, strings.NewReader(body+"extra\n"))
	assert.ErrorIs(t, err, core.ErrSourceChanged)

	retrying, err := e.svc.Retry(ctx, job.ID, strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, core.StatusRetrying, retrying.Status)
	assert.Empty(t, retrying.LastError)

	done := e.run(t, job.ID)
	assert.Equal(t, core.StatusCompleted, done.Status)
	assert.Equal(t, core.Counters{Total: 3, Processed: 3, Success: 3}, done.Counters)
	assert.Equal(t, []string{"A-1", "B-1", "C-1"}, skus(e.store))

	_, err = e.svc.Retry(ctx, job.ID, strings.NewReader(body))
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestService_RetryNothingLeft(t *testing.T) {
	e := newEnv(t, core.Options{})
	body := header + line("A", "A-1", "1", "2", "3", "", "")
	job := e.run(t, e.submit(t, "p.csv", body).ID)
	require.Equal(t, core.StatusFailed, job.Status)

	_, err := e.svc.Retry(context.Background(), job.ID, strings.NewReader(body))
	assert.ErrorIs(t, err, core.ErrNothingToRetry)
}

func TestService_RecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, core.Options{})
	job := e.submit(t, "p.csv", header+line("A", "A-1", "1", "2", "2", "", ""))
	queued := e.submit(t, "q.csv", header+line("B", "B-1", "1", "2", "2", "", ""))

	stored, err := e.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Transition(core.StatusProcessing, time.Now()))
	require.NoError(t, e.store.UpdateJob(ctx, stored, core.StatusPending))

	n, err := e.svc.RecoverInterrupted(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	parked, err := e.svc.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaused, parked.Status)
	assert.Equal(t, core.InterruptedReason, parked.LastError)

	for e.q.Len() > 0 {
		_, _ = e.q.Dequeue(ctx)
	}

	n, err = e.svc.RecoverInterrupted(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, e.q.Len())

	resumed, err := e.svc.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusResuming, resumed.Status)

	done := e.run(t, job.ID)
	assert.Equal(t, core.StatusCompleted, done.Status)
	done = e.run(t, queued.ID)
	assert.Equal(t, core.StatusCompleted, done.Status)
}

func TestService_SweepTempFiles(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, core.Options{})
	job := e.submit(t, "p.csv", header)

	old := time.Now().Add(-2 * time.Hour)
	stray := filepath.Join(e.dir, "import-stray.csv")
	other := filepath.Join(e.dir, "notes.txt")
	fresh := filepath.Join(e.dir, "import-fresh.csv")
	for _, p := range []string{stray, other, fresh} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}
	for _, p := range []string{stray, other, job.TempPath} {
		require.NoError(t, os.Chtimes(p, old, old))
	}

	removed, err := e.svc.SweepTempFiles(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, stray)
	assert.FileExists(t, other)
	assert.FileExists(t, fresh)
	assert.FileExists(t, job.TempPath, "unfinished job keeps its source")
}

func TestService_WorkersDrainQueue(t *testing.T) {
	e := newEnv(t, core.Options{MaxConcurrent: 2})
	a := e.submit(t, "a.csv", header+line("A", "A-1", "1", "2", "2", "", ""))
	b := e.submit(t, "b.csv", header+line("B", "B-1", "1", "2", "2", "", ""))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.svc.RunWorkers(ctx, 2) }()

	require.Eventually(t, func() bool {
		for _, id := range []uuid.UUID{a.ID, b.ID} {
			j, err := e.svc.Job(context.Background(), id)
			if err != nil || j.Status != core.StatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
	assert.Zero(t, e.svc.LimiterStatus().Active)
}

func TestService_WorkersWaitForBusySlot(t *testing.T) {
	e := newEnv(t, core.Options{MaxConcurrent: 1, MaxWaitTime: 5 * time.Second})
	var ids []uuid.UUID
	for _, sku := range []string{"A-1", "B-1", "C-1"} {
		ids = append(ids, e.submit(t, sku+".csv", header+line("Lamp "+sku, sku, "1", "2", "2", "", "")).ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.svc.RunWorkers(ctx, 3) }()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			j, err := e.svc.Job(context.Background(), id)
			if err != nil || j.Status != core.StatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
	assert.Equal(t, 1, e.svc.LimiterStatus().MaxConcurrent)
	assert.Equal(t, []string{"A-1", "B-1", "C-1"}, skus(e.store))
}

func TestService_TemplateRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, core.Options{})

	tmpl, err := e.svc.Template(ctx, nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, tmpl.Write(&buf, core.FormatCSV))

	job := e.run(t, e.submit(t, "template.csv", buf.String()).ID)
	require.Equal(t, core.StatusCompleted, job.Status, "template examples import cleanly")
	assert.Equal(t, 2, job.Success)

	catalogs := e.store.Catalogs()
	require.Len(t, catalogs, 1)
	tmpl, err = e.svc.Template(ctx, &catalogs[0].ID)
	require.NoError(t, err)
	cols := strings.Join(tmpl.Header(), ",")
	assert.True(t, strings.HasSuffix(cols, ",attr_Color,attr_Size"), cols)

	var xlsx bytes.Buffer
	require.NoError(t, tmpl.Write(&xlsx, core.FormatXLSX))
	job = e.run(t, e.submit(t, "template.xlsx", xlsx.String()).ID)
	assert.Equal(t, core.StatusFailed, job.Status, "example SKUs already exist")
	assert.Equal(t, 2, job.Failed)
}
