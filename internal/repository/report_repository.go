package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/godilite/incident-reporter/internal/repository/models"
)

// ReportRepository publishes the five metric result sets and the run
// report. Publication is all-or-nothing: everything happens in one
// transaction, and each result table is rewritten in full so reruns are
// idempotent.
type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

const reportSchema = `
	CREATE TABLE IF NOT EXISTS process_failures (
		process_name TEXT NOT NULL,
		failure_count INTEGER NOT NULL,
		rank INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS business_area_leaders (
		business_area TEXT NOT NULL,
		issue_count INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS resolution_summary (
		average_resolution_time_days REAL NOT NULL,
		sample_size INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS note_digests (
		incident_id TEXT NOT NULL,
		note_digest TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS incident_links (
		incident_id TEXT NOT NULL,
		web_link TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS run_reports (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		month_from INTEGER NOT NULL,
		month_to INTEGER NOT NULL,
		rows_read INTEGER NOT NULL,
		rows_joined INTEGER NOT NULL,
		rows_excluded INTEGER NOT NULL,
		malformed_values INTEGER NOT NULL,
		unresolved_refs INTEGER NOT NULL,
		attachment_rows INTEGER NOT NULL
	);
`

func (r *ReportRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, reportSchema); err != nil {
		return fmt.Errorf("ensure report schema: %w", err)
	}
	return nil
}

// Publish writes a complete report. The five result tables are cleared
// and repopulated; the run report is appended. A failure anywhere rolls
// the whole batch back.
func (r *ReportRepository) Publish(ctx context.Context, report models.Report) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"process_failures",
		"business_area_leaders",
		"resolution_summary",
		"note_digests",
		"incident_links",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, row := range report.ProcessFailures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO process_failures (process_name, failure_count, rank) VALUES (?, ?, ?)`,
			row.ProcessName, row.FailureCount, row.Rank); err != nil {
			return fmt.Errorf("insert process_failures row: %w", err)
		}
	}

	for _, row := range report.BusinessAreaLeaders {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO business_area_leaders (business_area, issue_count) VALUES (?, ?)`,
			row.BusinessArea, row.IssueCount); err != nil {
			return fmt.Errorf("insert business_area_leaders row: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO resolution_summary (average_resolution_time_days, sample_size) VALUES (?, ?)`,
		report.Resolution.AverageResolutionDays, report.Resolution.SampleSize); err != nil {
		return fmt.Errorf("insert resolution_summary row: %w", err)
	}

	for _, row := range report.NoteDigests {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO note_digests (incident_id, note_digest) VALUES (?, ?)`,
			row.IncidentID, row.Digest); err != nil {
			return fmt.Errorf("insert note_digests row: %w", err)
		}
	}

	for _, row := range report.IncidentLinks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO incident_links (incident_id, web_link) VALUES (?, ?)`,
			row.IncidentID, row.WebLink); err != nil {
			return fmt.Errorf("insert incident_links row: %w", err)
		}
	}

	run := report.Run
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_reports (
			run_id, started_at, finished_at, month_from, month_to,
			rows_read, rows_joined, rows_excluded, malformed_values,
			unresolved_refs, attachment_rows
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.MonthFrom, run.MonthTo,
		run.RowsRead, run.RowsJoined, run.RowsExcluded,
		run.MalformedValues, run.UnresolvedRefs, run.AttachmentRows); err != nil {
		return fmt.Errorf("insert run_reports row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish: %w", err)
	}
	return nil
}

// LatestRun returns the most recently finished run report.
func (r *ReportRepository) LatestRun(ctx context.Context) (models.RunReport, error) {
	const query = `
		SELECT run_id, started_at, finished_at, month_from, month_to,
		       rows_read, rows_joined, rows_excluded, malformed_values,
		       unresolved_refs, attachment_rows
		FROM run_reports
		ORDER BY finished_at DESC
		LIMIT 1
	`

	var run models.RunReport
	var started, finished string
	err := r.db.QueryRowContext(ctx, query).Scan(
		&run.RunID, &started, &finished, &run.MonthFrom, &run.MonthTo,
		&run.RowsRead, &run.RowsJoined, &run.RowsExcluded,
		&run.MalformedValues, &run.UnresolvedRefs, &run.AttachmentRows)
	if err != nil {
		return models.RunReport{}, fmt.Errorf("query LatestRun: %w", err)
	}

	if run.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
		return models.RunReport{}, fmt.Errorf("parse LatestRun started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339, finished); err != nil {
		return models.RunReport{}, fmt.Errorf("parse LatestRun finished_at: %w", err)
	}
	return run, nil
}
