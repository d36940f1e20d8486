// Package export writes every row of every table of a module to one durable
// artifact and records resumable progress per module.
//
// Resumption works at module granularity: a completed module is never read
// again, any other module restarts from its first table.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/internal/catalog"
)

// DefaultBatchSize is the number of rows fetched per page.
const DefaultBatchSize = 1000

// Options configures an Exporter.
type Options struct {
	BatchSize            int
	CompressionThreshold int64
	Logger               logrus.FieldLogger
	// Now is the clock used for timestamps and artifact names.
	Now func() time.Time
}

// Exporter exports modules from a read-only source.
type Exporter struct {
	driver      database.Driver
	checkpoints CheckpointStore
	opts        Options
	log         logrus.FieldLogger
}

// NewExporter creates an exporter. Zero options take the package defaults.
func NewExporter(driver database.Driver, checkpoints CheckpointStore, opts Options) *Exporter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.CompressionThreshold <= 0 {
		opts.CompressionThreshold = DefaultCompressionThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Exporter{driver: driver, checkpoints: checkpoints, opts: opts, log: log}
}

// ExportModules exports each module in order into outputDir. It stops at the
// first failing module, whose checkpoint is left failed and eligible for
// retry.
func (e *Exporter) ExportModules(ctx context.Context, jobID string, source *sql.DB, modules []catalog.ExportModule, outputDir string) error {
	var tables map[string]bool

	for _, m := range modules {
		log := e.log.WithFields(logrus.Fields{"job_id": jobID, "module": m.Name})

		cp, err := e.checkpoints.GetCheckpoint(ctx, jobID, m.Name)
		if err != nil {
			return fmt.Errorf("failed to load checkpoint for module %s: %w", m.Name, err)
		}
		if cp != nil && cp.Status == StatusCompleted {
			log.Info("Module already exported, skipping")
			continue
		}

		// Enumerated once, and only when some module actually needs reading.
		if tables == nil {
			names, err := e.driver.GetTables(ctx, source)
			if err != nil {
				return &database.ConnectivityError{Target: "source", Err: err}
			}
			tables = make(map[string]bool, len(names))
			for _, n := range names {
				tables[n] = true
			}
		}

		if err := e.exportModule(ctx, jobID, source, m, tables, outputDir, log); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) exportModule(ctx context.Context, jobID string, source *sql.DB, m catalog.ExportModule, tables map[string]bool, outputDir string, log logrus.FieldLogger) error {
	started := e.opts.Now().UTC()
	cp := &Checkpoint{
		JobID:     jobID,
		Module:    m.Name,
		Status:    StatusInProgress,
		StartedAt: &started,
		UpdatedAt: started,
	}
	if err := e.save(ctx, cp); err != nil {
		return err
	}
	log.Info("Exporting module")

	doc := &Document{Module: m.Name, Tables: make(map[string][]map[string]any)}
	for _, spec := range m.Tables {
		if !tables[spec.Table] {
			log.WithField("table", spec.Table).Info("Table not present in source, skipping")
			continue
		}
		rows, err := e.exportTable(ctx, source, spec, cp)
		if err != nil {
			return e.fail(ctx, cp, fmt.Errorf("failed to export table %s: %w", spec.Table, err), log)
		}
		doc.Tables[spec.Table] = rows
		doc.TotalRecords += int64(len(rows))
	}

	doc.ExportedAt = e.opts.Now().UTC()
	path, size, err := WriteArtifact(outputDir, doc, e.opts.CompressionThreshold)
	if err != nil {
		return e.fail(ctx, cp, err, log)
	}

	completed := e.opts.Now().UTC()
	cp.Status = StatusCompleted
	cp.FilePath = path
	cp.FileSize = size
	cp.CompletedAt = &completed
	cp.LastError = ""
	if err := e.save(ctx, cp); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"records": doc.TotalRecords,
		"path":    path,
		"bytes":   size,
	}).Info("Module exported")
	return nil
}

// exportTable pages through a table by its sort key and persists progress
// after every batch.
func (e *Exporter) exportTable(ctx context.Context, source *sql.DB, spec catalog.TableSpec, cp *Checkpoint) ([]map[string]any, error) {
	cols, err := e.driver.GetColumns(ctx, source, spec.Table)
	if err != nil {
		return nil, &database.SchemaProbeError{Table: spec.Table, Op: "read columns", Err: err}
	}
	allowed := make([]string, len(cols))
	for i, c := range cols {
		if err := database.ValidateIdentifier(c.Name); err != nil {
			return nil, err
		}
		allowed[i] = c.Name
	}
	if err := database.NewAllowlist(allowed...).Check(spec.SortKey); err != nil {
		return nil, fmt.Errorf("sort key: %w", err)
	}

	count, err := database.CountRows(ctx, source, e.driver, spec.Table)
	if err != nil {
		return nil, &database.SchemaProbeError{Table: spec.Table, Op: "count rows", Err: err}
	}
	cp.TotalRecords += count
	if err := e.save(ctx, cp); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		database.QuoteList(e.driver, allowed),
		e.driver.QuoteIdentifier(spec.Table),
		database.QuoteList(e.driver, orderColumns(cols, spec.SortKey)))

	out := make([]map[string]any, 0, count)
	for offset := 0; ; offset += e.opts.BatchSize {
		batch, err := e.fetch(ctx, source, fmt.Sprintf("%s LIMIT %d OFFSET %d", query, e.opts.BatchSize, offset))
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)

		cp.RecordsExported += int64(len(batch))
		if err := e.save(ctx, cp); err != nil {
			return nil, err
		}
		if len(batch) < e.opts.BatchSize {
			return out, nil
		}
	}
}

// orderColumns returns the sort key followed by a tiebreak that makes the
// order total: the primary key columns, or every column when there is none.
// OFFSET paging skips or repeats rows under a partial order.
func orderColumns(cols []database.Column, sortKey string) []string {
	order := []string{sortKey}
	var pk, rest []string
	for _, c := range cols {
		if c.Name == sortKey {
			continue
		}
		if c.IsPrimaryKey {
			pk = append(pk, c.Name)
		}
		rest = append(rest, c.Name)
	}
	if len(pk) > 0 {
		return append(order, pk...)
	}
	return append(order, rest...)
}

func (e *Exporter) fetch(ctx context.Context, source *sql.DB, query string) ([]map[string]any, error) {
	rows, err := source.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return database.ScanRecords(rows)
}

// fail marks the checkpoint failed, keeping its counters, and returns cause.
func (e *Exporter) fail(ctx context.Context, cp *Checkpoint, cause error, log logrus.FieldLogger) error {
	cp.Status = StatusFailed
	cp.LastError = cause.Error()
	if err := e.save(context.WithoutCancel(ctx), cp); err != nil {
		log.WithError(err).Error("Failed to record export failure")
	}
	log.WithError(cause).Error("Module export failed")
	return fmt.Errorf("failed to export module %s: %w", cp.Module, cause)
}

func (e *Exporter) save(ctx context.Context, cp *Checkpoint) error {
	cp.UpdatedAt = e.opts.Now().UTC()
	if err := e.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint for module %s: %w", cp.Module, err)
	}
	return nil
}
