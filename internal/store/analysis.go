package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AnalysisKind names one of the JSON blobs kept per job.
type AnalysisKind string

const (
	AnalysisComparison AnalysisKind = "comparison"
	AnalysisRecords    AnalysisKind = "records"
	AnalysisPlan       AnalysisKind = "plan"
)

func (k AnalysisKind) column() (string, error) {
	switch k {
	case AnalysisComparison, AnalysisRecords, AnalysisPlan:
		return string(k), nil
	default:
		return "", fmt.Errorf("unknown analysis kind %q", string(k))
	}
}

// Analysis holds the stored JSON results of a job. Missing parts are nil.
type Analysis struct {
	JobID      string          `json:"job_id"`
	Comparison json.RawMessage `json:"comparison,omitempty"`
	Records    json.RawMessage `json:"records,omitempty"`
	Plan       json.RawMessage `json:"plan,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SaveAnalysis stores v as the kind blob of the job, leaving the others.
func (s *Store) SaveAnalysis(ctx context.Context, jobID string, kind AnalysisKind, v any) error {
	col, err := kind.column()
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	query := fmt.Sprintf(
		`INSERT INTO downshift_analysis (job_id, %[1]s, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at`, col)
	if _, err := s.exec(ctx, query, jobID, string(data), millis(s.now())); err != nil {
		return fmt.Errorf("failed to save %s for job %s: %w", kind, jobID, err)
	}
	return nil
}

// GetAnalysis returns the stored results of a job or ErrNotFound.
func (s *Store) GetAnalysis(ctx context.Context, jobID string) (*Analysis, error) {
	var (
		a                         Analysis
		comparison, records, plan sql.NullString
		updated                   int64
	)
	err := s.queryRow(ctx,
		`SELECT job_id, comparison, records, plan, updated_at FROM downshift_analysis WHERE job_id = ?`, jobID).
		Scan(&a.JobID, &comparison, &records, &plan, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis of job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis of job %s: %w", jobID, err)
	}
	a.Comparison = raw(comparison)
	a.Records = raw(records)
	a.Plan = raw(plan)
	a.UpdatedAt = fromMillis(updated)
	return &a, nil
}

func raw(v sql.NullString) json.RawMessage {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.RawMessage(v.String)
}
