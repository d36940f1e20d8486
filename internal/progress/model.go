// Package progress renders a live terminal view of a job from the job store.
package progress

import (
	"context"
	"fmt"
	"strings"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lockplane/downshift/internal/executor"
	"github.com/lockplane/downshift/internal/export"
	"github.com/lockplane/downshift/internal/store"
	"github.com/lockplane/downshift/internal/validation"
)

// DefaultInterval is how often the store is polled.
const DefaultInterval = 500 * time.Millisecond

// Source is the read side of the job store.
type Source interface {
	GetJob(ctx context.Context, id string) (*store.Job, error)
	ListCheckpoints(ctx context.Context, jobID string) ([]export.Checkpoint, error)
	ListStepLogs(ctx context.Context, jobID string) ([]executor.StepLog, error)
	ListChecks(ctx context.Context, jobID string) ([]validation.Check, error)
}

// Snapshot is everything known about a job at one point in time.
type Snapshot struct {
	Job         store.Job           `json:"job"`
	Checkpoints []export.Checkpoint `json:"checkpoints"`
	Steps       []executor.StepLog  `json:"steps"`
	Checks      []validation.Check  `json:"checks"`
}

// Load reads a snapshot of the job.
func Load(ctx context.Context, src Source, jobID string) (*Snapshot, error) {
	job, err := src.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Job: *job}
	if snap.Checkpoints, err = src.ListCheckpoints(ctx, jobID); err != nil {
		return nil, err
	}
	if snap.Steps, err = src.ListStepLogs(ctx, jobID); err != nil {
		return nil, err
	}
	if snap.Checks, err = src.ListChecks(ctx, jobID); err != nil {
		return nil, err
	}
	return snap, nil
}

type snapshotMsg struct {
	snap *Snapshot
	err  error
}

type pollMsg struct{}

// Model is the Bubble Tea model of the watch view. It quits once the job
// reaches a terminal state.
type Model struct {
	src      Source
	jobID    string
	interval time.Duration

	spinner spinner.Model
	bar     progressbar.Model

	snap *Snapshot
	err  error
	done bool
}

// New creates a watch model.
func New(src Source, jobID string, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = headerStyle
	return Model{
		src:      src,
		jobID:    jobID,
		interval: interval,
		spinner:  s,
		bar:      progressbar.New(progressbar.WithDefaultGradient(), progressbar.WithWidth(30)),
	}
}

// Snapshot returns the last snapshot read, or nil.
func (m Model) Snapshot() *Snapshot { return m.snap }

// Err returns the last read error.
func (m Model) Err() error { return m.err }

// Init starts the spinner and the first read.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		snap, err := Load(context.Background(), m.src, m.jobID)
		return snapshotMsg{snap: snap, err: err}
	}
}

// Update handles store reads, ticks and keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		width := msg.Width - 40
		if width > 60 {
			width = 60
		}
		if width < 10 {
			width = 10
		}
		m.bar.Width = width
		return m, nil

	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		m.snap = msg.snap
		if m.snap.Job.State.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })

	case pollMsg:
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the current snapshot.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("downshift job " + m.jobID))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(iconError+" "+m.err.Error()) + "\n")
		return b.String()
	}
	if m.snap == nil {
		b.WriteString(m.spinner.View() + " loading\n")
		return b.String()
	}

	job := m.snap.Job
	state := string(job.State)
	if job.State.Terminal() {
		b.WriteString(statusIcon(state) + " " + state)
	} else {
		b.WriteString(m.spinner.View() + " " + state)
	}
	if job.DryRun {
		b.WriteString(labelStyle.Render("  (dry run)"))
	}
	b.WriteString("\n")
	if job.Error != "" {
		b.WriteString(errorStyle.Render(job.Error) + "\n")
	}

	if len(m.snap.Checkpoints) > 0 {
		b.WriteString(sectionHeaderStyle.Render("Export") + "\n")
		for _, cp := range m.snap.Checkpoints {
			b.WriteString(fmt.Sprintf("%s %-22s %s %s\n",
				statusIcon(string(cp.Status)), cp.Module,
				m.bar.ViewAs(fraction(cp.RecordsExported, cp.TotalRecords, cp.Status == export.StatusCompleted)),
				labelStyle.Render(fmt.Sprintf("%d/%d", cp.RecordsExported, cp.TotalRecords))))
		}
	}

	if len(m.snap.Steps) > 0 {
		b.WriteString(sectionHeaderStyle.Render("Migration") + "\n")
		for _, s := range m.snap.Steps {
			line := fmt.Sprintf("%s %2d %s", statusIcon(string(s.Status)), s.Step, s.Name)
			if s.Status == executor.StepCompleted {
				line += labelStyle.Render(fmt.Sprintf("  %d rows, %dms", s.RowsAffected, s.DurationMs))
			}
			if s.Error != "" {
				line += "  " + errorStyle.Render(s.Error)
			}
			b.WriteString(line + "\n")
		}
	}

	if len(m.snap.Checks) > 0 {
		b.WriteString(sectionHeaderStyle.Render("Validation") + "\n")
		for _, c := range m.snap.Checks {
			b.WriteString(fmt.Sprintf("%s %s %s\n", statusIcon(string(c.Status)), c.Name, labelStyle.Render(c.Details)))
		}
	}

	if !m.done {
		b.WriteString(statusBarStyle.Render("q to stop watching; the job keeps running") + "\n")
	}
	return b.String()
}

func fraction(done, total int64, completed bool) float64 {
	if completed {
		return 1
	}
	if total <= 0 {
		return 0
	}
	f := float64(done) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}

// Run shows the view until the job finishes or the user quits, and returns
// the last snapshot.
func Run(src Source, jobID string, interval time.Duration) (*Snapshot, error) {
	final, err := tea.NewProgram(New(src, jobID, interval)).Run()
	if err != nil {
		return nil, fmt.Errorf("failed to run progress view: %w", err)
	}
	m := final.(Model)
	return m.snap, m.err
}
