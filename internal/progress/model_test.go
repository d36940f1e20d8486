package progress

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lockplane/downshift/internal/executor"
	"github.com/lockplane/downshift/internal/export"
	"github.com/lockplane/downshift/internal/store"
	"github.com/lockplane/downshift/internal/validation"
)

type fakeSource struct {
	job    store.Job
	cps    []export.Checkpoint
	steps  []executor.StepLog
	checks []validation.Check
	err    error
}

func (f *fakeSource) GetJob(_ context.Context, id string) (*store.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	j := f.job
	return &j, nil
}

func (f *fakeSource) ListCheckpoints(context.Context, string) ([]export.Checkpoint, error) {
	return f.cps, nil
}

func (f *fakeSource) ListStepLogs(context.Context, string) ([]executor.StepLog, error) {
	return f.steps, nil
}

func (f *fakeSource) ListChecks(context.Context, string) ([]validation.Check, error) {
	return f.checks, nil
}

func TestModel_Update(t *testing.T) {
	running := &Snapshot{Job: store.Job{ID: "job-1", State: store.JobExporting}}
	finished := &Snapshot{Job: store.Job{ID: "job-1", State: store.JobCompleted}}

	tests := []struct {
		name      string
		msg       tea.Msg
		expectCmd bool
		expectEnd bool
	}{
		{"running job polls again", snapshotMsg{snap: running}, true, false},
		{"terminal job quits", snapshotMsg{snap: finished}, true, true},
		{"read error quits", snapshotMsg{err: errors.New("boom")}, true, true},
		{"poll fetches", pollMsg{}, true, false},
		{"q quits", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}, true, false},
		{"other keys ignored", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(&fakeSource{}, "job-1", time.Millisecond)
			next, cmd := m.Update(tt.msg)
			if (cmd != nil) != tt.expectCmd {
				t.Errorf("Expected cmd=%v, got %v", tt.expectCmd, cmd != nil)
			}
			if got := next.(Model).done; got != tt.expectEnd {
				t.Errorf("Expected done=%v, got %v", tt.expectEnd, got)
			}
		})
	}
}

func TestModel_FetchReadsSnapshot(t *testing.T) {
	src := &fakeSource{job: store.Job{ID: "job-1", State: store.JobMigrating}}
	m := New(src, "job-1", time.Millisecond)

	msg := m.fetch()()
	snap, ok := msg.(snapshotMsg)
	if !ok {
		t.Fatalf("Expected snapshotMsg, got %T", msg)
	}
	if snap.err != nil {
		t.Fatalf("Unexpected error: %v", snap.err)
	}
	if snap.snap.Job.State != store.JobMigrating {
		t.Errorf("Expected migrating, got %s", snap.snap.Job.State)
	}
}

func TestModel_View(t *testing.T) {
	src := &fakeSource{}
	m := New(src, "job-1", time.Millisecond)
	if !strings.Contains(m.View(), "loading") {
		t.Errorf("Expected loading view before the first read")
	}

	next, _ := m.Update(snapshotMsg{snap: &Snapshot{
		Job: store.Job{ID: "job-1", State: store.JobFailed, Error: "step 3 (drop_table:a) failed"},
		Checkpoints: []export.Checkpoint{
			{Module: "helpdesk", Status: export.StatusCompleted, RecordsExported: 4, TotalRecords: 4},
			{Module: "sign", Status: export.StatusInProgress, RecordsExported: 1, TotalRecords: 4},
		},
		Steps: []executor.StepLog{
			{Step: 1, Name: "deactivate_crons", Status: executor.StepCompleted, RowsAffected: 2},
			{Step: 2, Name: "drop_table:a", Status: executor.StepFailed, Error: "no such table"},
			{Step: 3, Name: "analyze", Status: executor.StepSkipped},
		},
		Checks: []validation.Check{{Name: "catalog_health", Status: validation.StatusPass, Details: "3 user tables present"}},
	}})

	view := next.(Model).View()
	for _, want := range []string{"failed", "helpdesk", "4/4", "1/4", "deactivate_crons", "2 rows", "no such table", "catalog_health"} {
		if !strings.Contains(view, want) {
			t.Errorf("Expected view to contain %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "q to stop watching") {
		t.Errorf("Finished view should not show the key hint")
	}
}

func TestFraction(t *testing.T) {
	if got := fraction(5, 10, false); got != 0.5 {
		t.Errorf("Expected 0.5, got %v", got)
	}
	if got := fraction(0, 0, true); got != 1 {
		t.Errorf("Expected completed module at 1, got %v", got)
	}
	if got := fraction(3, 0, false); got != 0 {
		t.Errorf("Expected 0 without a total, got %v", got)
	}
}
