package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lockplane/downshift/internal/export"
)

const checkpointColumns = `job_id, module, status, records_exported, total_records, file_path, file_size, started_at, completed_at, updated_at, last_error`

// GetCheckpoint returns the checkpoint of (jobID, module), or nil when none
// has been saved.
func (s *Store) GetCheckpoint(ctx context.Context, jobID, module string) (*export.Checkpoint, error) {
	row := s.queryRow(ctx,
		`SELECT `+checkpointColumns+` FROM downshift_checkpoints WHERE job_id = ? AND module = ?`, jobID, module)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s/%s: %w", jobID, module, err)
	}
	return cp, nil
}

// SaveCheckpoint upserts a checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *export.Checkpoint) error {
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO downshift_checkpoints (`+checkpointColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, module) DO UPDATE SET
			status = excluded.status,
			records_exported = excluded.records_exported,
			total_records = excluded.total_records,
			file_path = excluded.file_path,
			file_size = excluded.file_size,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at,
			last_error = excluded.last_error`,
		cp.JobID, cp.Module, string(cp.Status), cp.RecordsExported, cp.TotalRecords,
		cp.FilePath, cp.FileSize, nullMillis(cp.StartedAt), nullMillis(cp.CompletedAt),
		millis(updated), cp.LastError)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s/%s: %w", cp.JobID, cp.Module, err)
	}
	return nil
}

// ListCheckpoints returns every checkpoint of a job ordered by module.
func (s *Store) ListCheckpoints(ctx context.Context, jobID string) ([]export.Checkpoint, error) {
	rows, err := s.query(ctx,
		`SELECT `+checkpointColumns+` FROM downshift_checkpoints WHERE job_id = ? ORDER BY module`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []export.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

func scanCheckpoint(row scanner) (*export.Checkpoint, error) {
	var (
		cp                 export.Checkpoint
		status             string
		started, completed sql.NullInt64
		updated            int64
	)
	err := row.Scan(&cp.JobID, &cp.Module, &status, &cp.RecordsExported, &cp.TotalRecords,
		&cp.FilePath, &cp.FileSize, &started, &completed, &updated, &cp.LastError)
	if err != nil {
		return nil, err
	}
	cp.Status = export.Status(status)
	cp.StartedAt = timePtr(started)
	cp.CompletedAt = timePtr(completed)
	cp.UpdatedAt = fromMillis(updated)
	return &cp, nil
}
