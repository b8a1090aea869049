package scheduler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rwa-platform/compliance-oracle/internal/database"
)

// RunRecord is one scheduler run's ledger row.
type RunRecord struct {
	RunID           string     `json:"run_id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	TotalUpdates    int        `json:"total_updates"`
	BreakingChanges int        `json:"breaking_changes"`
	Proposals       int        `json:"proposals"`
	Errors          int        `json:"errors"`
	ReportPath      string     `json:"report_path,omitempty"`
}

// RunsRepository persists run history to sqlite.
type RunsRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRunsRepository creates the repository.
func NewRunsRepository(db *database.DB, log zerolog.Logger) *RunsRepository {
	return &RunsRepository{
		db:  db,
		log: log.With().Str("component", "runs_repository").Logger(),
	}
}

// Begin records the start of a run.
func (r *RunsRepository) Begin(record *RunRecord) error {
	_, err := r.db.Exec(
		`INSERT INTO scheduler_runs (run_id, started_at) VALUES (?, ?)`,
		record.RunID, record.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// Finish records the outcome of a run.
func (r *RunsRepository) Finish(record *RunRecord) error {
	completed := ""
	if record.CompletedAt != nil {
		completed = record.CompletedAt.Format(time.RFC3339)
	}
	_, err := r.db.Exec(
		`UPDATE scheduler_runs
		 SET completed_at = ?, total_updates = ?, breaking_changes = ?, proposals = ?, errors = ?, report_path = ?
		 WHERE run_id = ?`,
		completed, record.TotalUpdates, record.BreakingChanges, record.Proposals, record.Errors, record.ReportPath, record.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to record run completion: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (r *RunsRepository) Recent(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(
		`SELECT run_id, started_at, completed_at, total_updates, breaking_changes, proposals, errors, report_path
		 FROM scheduler_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started string
		var completed *string
		if err := rows.Scan(&rec.RunID, &started, &completed, &rec.TotalUpdates, &rec.BreakingChanges, &rec.Proposals, &rec.Errors, &rec.ReportPath); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, started); err == nil {
			rec.StartedAt = t
		}
		if completed != nil && *completed != "" {
			if t, err := time.Parse(time.RFC3339, *completed); err == nil {
				rec.CompletedAt = &t
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
