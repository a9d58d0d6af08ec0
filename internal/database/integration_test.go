package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/productimport/internal/core"
)

// integrationStore connects to TEST_DATABASE_URL and migrates it. The test
// is skipped when the variable is unset.
func integrationStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, PoolConfig{URL: url, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := New(pool)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func createTestJob(t *testing.T, store *Store, status core.JobStatus) *core.Job {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	j := &core.Job{
		ID:          uuid.New(),
		FileName:    "products.csv",
		Format:      core.FormatCSV,
		ContentHash: uuid.NewString(),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateJob(context.Background(), j))
	t.Cleanup(func() {
		_, _ = store.db.Exec(context.Background(), `DELETE FROM import_jobs WHERE id = $1`, j.ID)
	})
	return j
}

func TestIntegration_UpdateJobCompareAndSet(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()
	j := createTestJob(t, store, core.StatusPending)

	j.Status = core.StatusProcessing
	require.NoError(t, store.UpdateJob(ctx, j, core.StatusPending))

	j.Status = core.StatusCompleted
	assert.ErrorIs(t, store.UpdateJob(ctx, j, core.StatusPending), core.ErrStaleJob)

	missing := *j
	missing.ID = uuid.New()
	assert.ErrorIs(t, store.UpdateJob(ctx, &missing, core.StatusProcessing), core.ErrJobNotFound)

	got, err := store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, got.Status)
}

func TestIntegration_FindingsOrderedByRowThenSeverity(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()
	j := createTestJob(t, store, core.StatusProcessing)
	now := time.Now().UTC()

	finding := func(row int, sev core.Severity, code string) core.Finding {
		return core.Finding{JobID: j.ID, Row: row, Code: code, Message: code, Type: core.FindingValidation, Severity: sev, CreatedAt: now}
	}
	require.NoError(t, store.AppendFindings(ctx, []core.Finding{
		finding(4, core.SeverityError, "DUPLICATE_SKU"),
		finding(2, core.SeverityInfo, "NOTE"),
		finding(2, core.SeverityWarning, "PRICE_ORDER"),
		finding(2, core.SeverityError, "REQUIRED"),
	}))

	got, total, err := store.ListFindings(ctx, j.ID, core.FindingQuery{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	codes := make([]string, len(got))
	for i, f := range got {
		codes[i] = f.Code
	}
	assert.Equal(t, []string{"REQUIRED", "PRICE_ORDER", "NOTE", "DUPLICATE_SKU"}, codes)

	errorsOnly, total, err := store.ListFindings(ctx, j.ID, core.FindingQuery{Severity: core.SeverityError, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, errorsOnly, 1)
	assert.Equal(t, "DUPLICATE_SKU", errorsOnly[0].Code)
}

func TestIntegration_CheckpointRollsBackWithRow(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()
	j := createTestJob(t, store, core.StatusProcessing)

	progress := *j
	progress.RecordRow(true)
	err := store.WithProductTx(ctx, func(tx core.ProductTx) error {
		if err := tx.Checkpoint(ctx, &progress); err != nil {
			return err
		}
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	got, err := store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Processed)

	require.NoError(t, store.WithProductTx(ctx, func(tx core.ProductTx) error {
		return tx.Checkpoint(ctx, &progress)
	}))
	got, err = store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Success)
}
