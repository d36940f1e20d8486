package export

import (
	"context"
	"time"
)

// Status is the lifecycle state of one module export.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Checkpoint is the persisted progress of one (job, module) export.
// RecordsExported never decreases while the module is running.
type Checkpoint struct {
	JobID           string     `json:"job_id"`
	Module          string     `json:"module"`
	Status          Status     `json:"status"`
	RecordsExported int64      `json:"records_exported"`
	TotalRecords    int64      `json:"total_records"`
	FilePath        string     `json:"file_path,omitempty"`
	FileSize        int64      `json:"file_size"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastError       string     `json:"last_error,omitempty"`
}

// CheckpointStore persists checkpoints. GetCheckpoint returns nil, nil when no
// checkpoint exists yet.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, jobID, module string) (*Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
}
