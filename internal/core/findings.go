package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Sink is the append-only record of row findings.
type Sink struct {
	store FindingStore
	now   func() time.Time
}

// NewSink creates an error sink over store.
func NewSink(store FindingStore) *Sink {
	return &Sink{store: store, now: time.Now}
}

// Record stamps findings with the job id and appends them.
func (s *Sink) Record(ctx context.Context, jobID uuid.UUID, findings ...Finding) error {
	if len(findings) == 0 {
		return nil
	}
	now := s.now().UTC()
	batch := make([]Finding, len(findings))
	for i, f := range findings {
		f.JobID = jobID
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		batch[i] = f
	}
	if err := s.store.AppendFindings(ctx, batch); err != nil {
		return fmt.Errorf("append %d findings: %w", len(batch), err)
	}
	return nil
}

// List returns one page of a job's findings ordered by row, then severity.
func (s *Sink) List(ctx context.Context, jobID uuid.UUID, q FindingQuery) (*FindingPage, error) {
	findings, total, err := s.store.ListFindings(ctx, jobID, q)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	if findings == nil {
		findings = []Finding{}
	}
	return &FindingPage{Findings: findings, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// SortFindings orders findings by row, severity rank, then insertion sequence.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		return a.Seq < b.Seq
	})
}

// FindingsCSVHeader is the header of WriteFindingsCSV output.
var FindingsCSVHeader = []string{"row", "severity", "type", "code", "field", "value", "message"}

// WriteFindingsCSV exports findings so a user can fix and re-upload the rows.
func WriteFindingsCSV(w io.Writer, findings []Finding) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(FindingsCSVHeader); err != nil {
		return err
	}
	for _, f := range findings {
		rec := []string{
			strconv.Itoa(f.Row),
			string(f.Severity),
			string(f.Type),
			f.Code,
			f.Field,
			f.Value,
			f.Message,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
