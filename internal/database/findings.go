package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/productimport/internal/core"
)

var findingCopyColumns = []string{
	"job_id", "row_number", "field", "value", "code", "message", "type", "severity", "created_at",
}

// severityOrder sorts errors before warnings before info.
const severityOrder = `CASE severity WHEN 'error' THEN 0 WHEN 'warning' THEN 1 WHEN 'info' THEN 2 ELSE 3 END`

// AppendFindings bulk-inserts findings with COPY.
func (s *Store) AppendFindings(ctx context.Context, findings []core.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	_, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"import_findings"},
		findingCopyColumns,
		pgx.CopyFromSlice(len(findings), func(i int) ([]any, error) {
			f := findings[i]
			return []any{
				f.JobID, f.Row, f.Field, f.Value, f.Code, f.Message,
				string(f.Type), string(f.Severity), f.CreatedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy findings: %w", err)
	}
	return nil
}

func findingFilter(jobID uuid.UUID, q core.FindingQuery) *WhereBuilder {
	return NewWhereBuilder().
		Add("job_id", jobID).
		Add("severity", string(q.Severity)).
		Add("type", string(q.Type))
}

// ListFindings returns one page ordered by row, severity, then insertion.
func (s *Store) ListFindings(ctx context.Context, jobID uuid.UUID, q core.FindingQuery) ([]core.Finding, int, error) {
	wb := findingFilter(jobID, q)
	where, args := wb.Build()

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM import_findings`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count findings: %w", err)
	}

	query, args := wb.Page(`
		SELECT id, job_id, row_number, field, value, code, message, type, severity, created_at
		FROM import_findings`+where+`
		ORDER BY row_number, `+severityOrder+`, id`, args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var out []core.Finding
	for rows.Next() {
		var (
			f             core.Finding
			typ, severity string
		)
		if err := rows.Scan(&f.Seq, &f.JobID, &f.Row, &f.Field, &f.Value, &f.Code, &f.Message, &typ, &severity, &f.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan finding: %w", err)
		}
		f.Type = core.FindingType(typ)
		f.Severity = core.Severity(severity)
		out = append(out, f)
	}
	return out, total, rows.Err()
}
