package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rwa-platform/compliance-oracle/internal/events"
	"github.com/rwa-platform/compliance-oracle/internal/oracle"
	"github.com/rwa-platform/compliance-oracle/internal/rules"
	"github.com/rwa-platform/compliance-oracle/internal/scrapers"
)

// updateProcessor is the oracle surface the daily job needs.
type updateProcessor interface {
	ProcessUpdate(ctx context.Context, update scrapers.Update, jurisdiction string) (*oracle.Outcome, error)
}

// sourceReport is one scraper's slice of the run report.
type sourceReport struct {
	Source            string `json:"source"`
	Jurisdiction      string `json:"jurisdiction"`
	Updates           int    `json:"updates"`
	Breaking          int    `json:"breaking"`
	SkippedDuplicates int    `json:"skipped_duplicates"`
	AuditPath         string `json:"audit_path,omitempty"`
	Error             string `json:"error,omitempty"`
}

// runReport is the JSON document written for every daily run.
type runReport struct {
	RunID       string         `json:"run_id"`
	StartedAt   string         `json:"started_at"`
	CompletedAt string         `json:"completed_at"`
	Sources     []sourceReport `json:"sources"`

	TotalUpdates  int `json:"total_updates"`
	Breaking      int `json:"breaking_changes"`
	Proposals     int `json:"proposals_created"`
	NotRelevant   int `json:"not_relevant"`
	LowConfidence int `json:"low_confidence"`
	Errors        int `json:"errors"`

	ProposalIDs []string `json:"proposal_ids,omitempty"`
}

// DailyUpdateJob is the nightly ingestion pipeline: fetch every regulator
// source, fan updates out to the oracle, and record what happened.
type DailyUpdateJob struct {
	runners   []*scrapers.Runner
	processor updateProcessor
	rules     *rules.Store
	events    *events.Manager
	runs      *RunsRepository
	reportDir string
	timeout   time.Duration
	log       zerolog.Logger
}

// NewDailyUpdateJob wires the pipeline. The processor may be nil when the
// oracle is disabled; updates are then ingested and audited only.
func NewDailyUpdateJob(runners []*scrapers.Runner, processor updateProcessor, rulesStore *rules.Store, eventManager *events.Manager, runs *RunsRepository, reportDir string, log zerolog.Logger) *DailyUpdateJob {
	return &DailyUpdateJob{
		runners:   runners,
		processor: processor,
		rules:     rulesStore,
		events:    eventManager,
		runs:      runs,
		reportDir: reportDir,
		timeout:   15 * time.Minute,
		log:       log.With().Str("component", "daily_update").Logger(),
	}
}

// Name implements Job.
func (j *DailyUpdateJob) Name() string {
	return "daily_regulatory_update"
}

// Run executes one full pipeline tick. Scrapers run concurrently; oracle
// fan-out is sequential in publication order so change ids and changelog
// ordering stay reproducible.
func (j *DailyUpdateJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	started := time.Now()
	runID := "daily_" + started.Format("20060102_150405")
	j.log.Info().Str("run_id", runID).Msg("Starting daily regulatory update")

	if j.events != nil {
		j.events.Emit(events.ScraperRunStarted, "scheduler", map[string]interface{}{"run_id": runID})
	}

	record := &RunRecord{RunID: runID, StartedAt: started}
	if j.runs != nil {
		if err := j.runs.Begin(record); err != nil {
			j.log.Warn().Err(err).Msg("Could not record run start")
		}
	}

	results := make([]*scrapers.RunResult, len(j.runners))
	runErrs := make([]error, len(j.runners))
	var wg sync.WaitGroup
	for i, runner := range j.runners {
		wg.Add(1)
		go func(i int, runner *scrapers.Runner) {
			defer wg.Done()
			results[i], runErrs[i] = runner.Run(ctx)
		}(i, runner)
	}
	wg.Wait()

	report := runReport{
		RunID:     runID,
		StartedAt: started.Format(time.RFC3339),
	}
	breakingByJurisdiction := map[string][]rules.BreakingNote{}
	proposalsByJurisdiction := map[string]int{}
	failedSources := 0

	for i, runner := range j.runners {
		source := runner.Scraper().Name()
		jurisdiction := runner.Scraper().Jurisdiction()

		if runErrs[i] != nil {
			failedSources++
			report.Errors++
			report.Sources = append(report.Sources, sourceReport{
				Source:       source,
				Jurisdiction: jurisdiction,
				Error:        runErrs[i].Error(),
			})
			j.log.Error().Err(runErrs[i]).Str("source", source).Msg("Scraper failed")
			if j.events != nil {
				j.events.EmitError("scheduler", runErrs[i], map[string]interface{}{"source": source, "run_id": runID})
			}
			continue
		}

		result := results[i]
		report.Sources = append(report.Sources, sourceReport{
			Source:            source,
			Jurisdiction:      jurisdiction,
			Updates:           len(result.Updates),
			Breaking:          len(result.Breaking),
			SkippedDuplicates: result.SkippedDup,
			AuditPath:         result.AuditPath,
		})
		report.TotalUpdates += len(result.Updates)
		report.Breaking += len(result.Breaking)

		for _, update := range result.Updates {
			if update.IsBreakingChange {
				if j.events != nil {
					j.events.Emit(events.BreakingChangeFound, "scheduler", map[string]interface{}{
						"update_id": update.ID,
						"source":    update.Source,
						"title":     update.Title,
					})
				}
				breakingByJurisdiction[jurisdiction] = append(breakingByJurisdiction[jurisdiction], rules.BreakingNote{
					UpdateID: update.ID,
					Title:    update.Title,
					URL:      update.URL,
				})
			}

			if j.processor == nil {
				continue
			}
			outcome, err := j.processor.ProcessUpdate(ctx, update, jurisdiction)
			if err != nil {
				report.Errors++
				j.log.Error().Err(err).Str("update_id", update.ID).Msg("Oracle processing failed")
				continue
			}
			switch outcome.Status {
			case "proposal_created":
				report.Proposals++
				report.ProposalIDs = append(report.ProposalIDs, outcome.ChangeID)
				proposalsByJurisdiction[jurisdiction]++
			case "not_relevant":
				report.NotRelevant++
			case "low_confidence":
				report.LowConfidence++
			default:
				report.Errors++
			}
		}
	}

	// A breaking update that yields no field-level proposal still has to be
	// visible in the jurisdiction's changelog and version.
	jurisdictions := make([]string, 0, len(breakingByJurisdiction))
	for jurisdiction := range breakingByJurisdiction {
		jurisdictions = append(jurisdictions, jurisdiction)
	}
	sort.Strings(jurisdictions)
	for _, jurisdiction := range jurisdictions {
		if proposalsByJurisdiction[jurisdiction] > 0 {
			continue
		}
		if j.rules == nil {
			continue
		}
		if _, err := j.rules.NoteBreakingChanges(jurisdiction, breakingByJurisdiction[jurisdiction]); err != nil {
			report.Errors++
			j.log.Error().Err(err).Str("jurisdiction", jurisdiction).Msg("Could not record breaking updates")
			continue
		}
		if j.events != nil {
			j.events.Emit(events.CacheInvalidated, "scheduler", map[string]interface{}{
				"jurisdiction": jurisdiction,
				"run_id":       runID,
			})
		}
	}

	completed := time.Now()
	report.CompletedAt = completed.Format(time.RFC3339)

	reportPath, err := j.writeReport(&report)
	if err != nil {
		j.log.Error().Err(err).Msg("Could not write run report")
	}

	record.CompletedAt = &completed
	record.TotalUpdates = report.TotalUpdates
	record.BreakingChanges = report.Breaking
	record.Proposals = report.Proposals
	record.Errors = report.Errors
	record.ReportPath = reportPath
	if j.runs != nil {
		if err := j.runs.Finish(record); err != nil {
			j.log.Warn().Err(err).Msg("Could not record run completion")
		}
	}

	if j.events != nil {
		j.events.Emit(events.ScraperRunCompleted, "scheduler", map[string]interface{}{
			"run_id":        runID,
			"total_updates": report.TotalUpdates,
			"breaking":      report.Breaking,
			"proposals":     report.Proposals,
			"errors":        report.Errors,
		})
	}

	j.log.Info().
		Str("run_id", runID).
		Int("updates", report.TotalUpdates).
		Int("breaking", report.Breaking).
		Int("proposals", report.Proposals).
		Int("errors", report.Errors).
		Dur("duration", completed.Sub(started)).
		Msg("Daily regulatory update complete")

	if len(j.runners) > 0 && failedSources == len(j.runners) {
		return fmt.Errorf("all %d regulator sources failed", len(j.runners))
	}
	return nil
}

func (j *DailyUpdateJob) writeReport(report *runReport) (string, error) {
	if j.reportDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(j.reportDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode run report: %w", err)
	}

	path := filepath.Join(j.reportDir, report.RunID+".json")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	return path, nil
}
