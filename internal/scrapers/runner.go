package scrapers

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// RunResult is the outcome of one scraper run.
type RunResult struct {
	Source     string   `json:"source"`
	Updates    []Update `json:"updates"`
	Breaking   []Update `json:"breaking"`
	AuditPath  string   `json:"audit_path,omitempty"`
	SkippedDup int      `json:"skipped_duplicates"`
}

// Runner executes one scraper with dedup and audit persistence. A mutex
// guarantees a source never runs twice concurrently.
type Runner struct {
	scraper Scraper
	seen    *SeenRepository
	audit   *AuditTrail
	log     zerolog.Logger

	mu sync.Mutex
}

// NewRunner wires a scraper to the seen-set and audit trail.
func NewRunner(scraper Scraper, seen *SeenRepository, audit *AuditTrail, log zerolog.Logger) *Runner {
	return &Runner{
		scraper: scraper,
		seen:    seen,
		audit:   audit,
		log:     log.With().Str("component", "scraper_runner").Str("source", scraper.Name()).Logger(),
	}
}

// Scraper returns the wrapped scraper.
func (r *Runner) Scraper() Scraper {
	return r.scraper
}

// Run fetches, dedups, and audits one tick for this source. Audit failures
// are logged but do not discard the fetched updates.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fetched, err := r.scraper.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	updates := fetched
	skipped := 0
	if r.seen != nil {
		fresh, err := r.seen.FilterNew(r.scraper.Name(), fetched)
		if err != nil {
			r.log.Error().Err(err).Msg("Dedup failed, passing all fetched updates through")
		} else {
			skipped = len(fetched) - len(fresh)
			updates = fresh
		}
	}

	result := &RunResult{
		Source:     r.scraper.Name(),
		Updates:    updates,
		SkippedDup: skipped,
	}
	for _, u := range updates {
		if u.IsBreakingChange {
			result.Breaking = append(result.Breaking, u)
		}
	}

	if r.audit != nil {
		path, err := r.audit.Save(r.scraper.Name(), updates)
		if err != nil {
			r.log.Error().Err(err).Msg("Failed to write audit file")
		} else {
			result.AuditPath = path
		}
	}

	r.log.Info().
		Int("updates", len(updates)).
		Int("breaking", len(result.Breaking)).
		Int("skipped_duplicates", skipped).
		Msg("Scraper run complete")

	return result, nil
}
