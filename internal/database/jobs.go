package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/productimport/internal/core"
)

const jobColumns = `id, file_name, file_size, format, charset, content_hash, temp_path,
	catalog_id, status, total, processed, success, failed, last_error,
	created_at, started_at, paused_at, resumed_at, canceled_at, completed_at, updated_at`

func scanJob(row pgx.Row) (*core.Job, error) {
	var (
		j      core.Job
		format string
		status string
	)
	err := row.Scan(
		&j.ID, &j.FileName, &j.FileSize, &format, &j.Charset, &j.ContentHash, &j.TempPath,
		&j.CatalogID, &status, &j.Total, &j.Processed, &j.Success, &j.Failed, &j.LastError,
		&j.CreatedAt, &j.StartedAt, &j.PausedAt, &j.ResumedAt, &j.CanceledAt, &j.CompletedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Format = core.Format(format)
	j.Status = core.JobStatus(status)
	return &j, nil
}

func (s *Store) CreateJob(ctx context.Context, j *core.Job) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO import_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21)`,
		j.ID, j.FileName, j.FileSize, string(j.Format), j.Charset, j.ContentHash, j.TempPath,
		j.CatalogID, string(j.Status), j.Total, j.Processed, j.Success, j.Failed, j.LastError,
		j.CreatedAt, j.StartedAt, j.PausedAt, j.ResumedAt, j.CanceledAt, j.CompletedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", mapError(err))
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// UpdateJob writes the mutable job fields when the stored status still
// equals expected.
func (s *Store) UpdateJob(ctx context.Context, j *core.Job, expected core.JobStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE import_jobs SET
			status = $3, total = $4, processed = $5, success = $6, failed = $7,
			last_error = $8, temp_path = $9, started_at = $10, paused_at = $11,
			resumed_at = $12, canceled_at = $13, completed_at = $14, updated_at = $15
		WHERE id = $1 AND status = $2`,
		j.ID, string(expected),
		string(j.Status), j.Total, j.Processed, j.Success, j.Failed,
		j.LastError, j.TempPath, j.StartedAt, j.PausedAt,
		j.ResumedAt, j.CanceledAt, j.CompletedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	found, err := exists(ctx, s.db, `SELECT EXISTS (SELECT 1 FROM import_jobs WHERE id = $1)`, j.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if !found {
		return core.ErrJobNotFound
	}
	return core.ErrStaleJob
}

func (s *Store) ListJobs(ctx context.Context, q core.JobQuery) ([]core.Job, error) {
	statuses := make([]string, len(q.Statuses))
	for i, st := range q.Statuses {
		statuses[i] = string(st)
	}

	wb := NewWhereBuilder().AddAny("status", statuses)
	where, args := wb.Build()
	query, args := wb.Page(`SELECT `+jobColumns+` FROM import_jobs`+where+` ORDER BY created_at DESC, id`, args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []core.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
