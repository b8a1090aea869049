// Package oracle turns regulator updates into reviewable ruleset patches.
// Nothing the reasoner proposes touches a ruleset without a human approval.
package oracle

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rwa-platform/compliance-oracle/internal/events"
	"github.com/rwa-platform/compliance-oracle/internal/reasoner"
	"github.com/rwa-platform/compliance-oracle/internal/rules"
	"github.com/rwa-platform/compliance-oracle/internal/scrapers"
	"github.com/rwa-platform/compliance-oracle/internal/simulator"
)

// impactAnalyzer is the reasoner surface the oracle needs.
type impactAnalyzer interface {
	AnalyzeRegulatoryImpact(ctx context.Context, updateText string, currentRules map[string]interface{}, jurisdiction, targetFile string) (*reasoner.ChangeProposal, error)
}

// changeSimulator runs dry-run impact analysis for a proposal.
type changeSimulator interface {
	SimulateChange(ctx context.Context, proposal *reasoner.ChangeProposal, proposalID string, useMock bool) (*simulator.Result, error)
}

// Outcome reports what ProcessUpdate did with one regulator update.
type Outcome struct {
	Status     string                   `json:"status"` // not_relevant, low_confidence, proposal_created, error
	ChangeID   string                   `json:"change_id,omitempty"`
	Confidence float64                  `json:"confidence"`
	Proposal   *reasoner.ChangeProposal `json:"proposal,omitempty"`
}

// Service is the regulatory oracle: analyze, queue, review, apply.
type Service struct {
	analyzer      impactAnalyzer
	rules         *rules.Store
	simulator     changeSimulator
	changes       *ChangeStore
	events        *events.Manager
	minConfidence float64
	log           zerolog.Logger
}

// Config holds the oracle's collaborators.
type Config struct {
	Analyzer      impactAnalyzer
	Rules         *rules.Store
	Simulator     changeSimulator
	Changes       *ChangeStore
	Events        *events.Manager
	MinConfidence float64
}

// New creates the oracle service. MinConfidence defaults to 0.75.
func New(cfg Config, log zerolog.Logger) *Service {
	minConfidence := cfg.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.75
	}
	return &Service{
		analyzer:      cfg.Analyzer,
		rules:         cfg.Rules,
		simulator:     cfg.Simulator,
		changes:       cfg.Changes,
		events:        cfg.Events,
		minConfidence: minConfidence,
		log:           log.With().Str("component", "oracle").Logger(),
	}
}

// ProcessUpdate analyzes one regulator update against the jurisdiction's
// current rules. Proposals at or above the confidence floor enter the review
// queue with a best-effort impact simulation attached; everything else is
// recorded in the outcome and dropped.
func (s *Service) ProcessUpdate(ctx context.Context, update scrapers.Update, jurisdiction string) (*Outcome, error) {
	jurisdiction = strings.ToUpper(strings.TrimSpace(jurisdiction))
	targetFile := rules.FileFor(jurisdiction)

	current, err := s.rules.Get(jurisdiction)
	if err != nil {
		return &Outcome{Status: "error"}, fmt.Errorf("failed to load rules for %s: %w", jurisdiction, err)
	}

	proposal, err := s.analyzer.AnalyzeRegulatoryImpact(ctx, formatUpdateText(update), current, jurisdiction, targetFile)
	if err != nil {
		if s.events != nil {
			s.events.EmitError("oracle", err, map[string]interface{}{
				"update_id": update.ID,
				"source":    update.Source,
			})
		}
		return &Outcome{Status: "error"}, fmt.Errorf("impact analysis failed for update %s: %w", update.ID, err)
	}

	if !proposal.IsRelevant {
		s.log.Debug().Str("update_id", update.ID).Msg("Update not relevant to tracked rules")
		return &Outcome{Status: "not_relevant", Confidence: proposal.Confidence}, nil
	}
	if proposal.Confidence < s.minConfidence {
		s.log.Info().
			Str("update_id", update.ID).
			Float64("confidence", proposal.Confidence).
			Float64("floor", s.minConfidence).
			Msg("Proposal below confidence floor, dropping")
		return &Outcome{Status: "low_confidence", Confidence: proposal.Confidence, Proposal: proposal}, nil
	}

	if proposal.TargetFile == "" {
		proposal.TargetFile = targetFile
	}

	change := &PendingChange{
		ID:           changeID(proposal, time.Now()),
		CreatedAt:    time.Now(),
		Jurisdiction: jurisdiction,
		Status:       StatusPendingReview,
		Proposal:     *proposal,
		SourceUpdate: update,
	}

	// Simulation is best-effort; a failed run must not block the proposal.
	if s.simulator != nil {
		if result, simErr := s.simulator.SimulateChange(ctx, proposal, change.ID, true); simErr != nil {
			s.log.Warn().Err(simErr).Str("change_id", change.ID).Msg("Impact simulation failed")
			change.ImpactSimulation = map[string]interface{}{
				"status": "failed",
				"error":  simErr.Error(),
			}
		} else {
			change.ImpactSimulation = result
		}
	}

	if err := s.changes.Save(change); err != nil {
		return &Outcome{Status: "error"}, err
	}

	s.log.Info().
		Str("change_id", change.ID).
		Str("jurisdiction", jurisdiction).
		Str("field", proposal.FieldPath).
		Float64("confidence", proposal.Confidence).
		Msg("Created pending change")

	if s.events != nil {
		s.events.Emit(events.ProposalCreated, "oracle", map[string]interface{}{
			"change_id":    change.ID,
			"jurisdiction": jurisdiction,
			"field":        proposal.FieldPath,
			"confidence":   proposal.Confidence,
		})
	}

	return &Outcome{
		Status:     "proposal_created",
		ChangeID:   change.ID,
		Confidence: proposal.Confidence,
		Proposal:   proposal,
	}, nil
}

// Approve marks a pending change approved and optionally applies it to the
// ruleset immediately. Only pending_review changes can be approved; an apply
// failure leaves the change approved but unapplied.
func (s *Service) Approve(changeID, reviewer, notes string, applyImmediately bool) (*PendingChange, error) {
	change, err := s.changes.Get(changeID)
	if err != nil {
		return nil, err
	}
	if change.Status != StatusPendingReview {
		return nil, fmt.Errorf("change %s is %s, only pending_review changes can be approved", changeID, change.Status)
	}

	now := time.Now()
	change.Status = StatusApproved
	change.ReviewedBy = reviewer
	change.ReviewedAt = &now
	change.ReviewNotes = notes

	if s.events != nil {
		s.events.Emit(events.ProposalApproved, "oracle", map[string]interface{}{
			"change_id":   change.ID,
			"reviewed_by": reviewer,
		})
	}

	if !applyImmediately {
		return change, s.changes.Save(change)
	}

	version, applyErr := s.rules.ApplyPatch(change.Jurisdiction, change.Proposal.FieldPath, change.Proposal.NewValue, rules.Provenance{
		ChangeID:   change.ID,
		OldValue:   change.Proposal.OldValue,
		Summary:    change.Proposal.Summary,
		Source:     change.SourceUpdate.URL,
		ReviewedBy: reviewer,
	})
	if applyErr != nil {
		if saveErr := s.changes.Save(change); saveErr != nil {
			return nil, saveErr
		}
		return change, fmt.Errorf("change %s approved but apply failed: %w", change.ID, applyErr)
	}

	appliedAt := time.Now()
	change.Status = StatusApplied
	change.AppliedAt = &appliedAt

	s.log.Info().
		Str("change_id", change.ID).
		Str("jurisdiction", change.Jurisdiction).
		Str("version", version).
		Msg("Applied approved change")

	if s.events != nil {
		s.events.Emit(events.ProposalApplied, "oracle", map[string]interface{}{
			"change_id":    change.ID,
			"jurisdiction": change.Jurisdiction,
			"version":      version,
		})
	}

	return change, s.changes.Save(change)
}

// Reject marks a pending change rejected. Only pending_review changes can be
// rejected.
func (s *Service) Reject(changeID, reviewer, reason string) (*PendingChange, error) {
	change, err := s.changes.Get(changeID)
	if err != nil {
		return nil, err
	}
	if change.Status != StatusPendingReview {
		return nil, fmt.Errorf("change %s is %s, only pending_review changes can be rejected", changeID, change.Status)
	}

	now := time.Now()
	change.Status = StatusRejected
	change.ReviewedBy = reviewer
	change.ReviewedAt = &now
	change.ReviewNotes = reason

	if s.events != nil {
		s.events.Emit(events.ProposalRejected, "oracle", map[string]interface{}{
			"change_id":   change.ID,
			"reviewed_by": reviewer,
		})
	}

	return change, s.changes.Save(change)
}

// RunSimulation re-runs the impact simulation for a change and stores the
// result on it. useLiveData pulls the real investor population instead of the
// synthetic one.
func (s *Service) RunSimulation(ctx context.Context, changeID string, useLiveData bool) (*simulator.Result, error) {
	if s.simulator == nil {
		return nil, fmt.Errorf("simulator is not configured")
	}

	change, err := s.changes.Get(changeID)
	if err != nil {
		return nil, err
	}

	result, err := s.simulator.SimulateChange(ctx, &change.Proposal, change.ID, !useLiveData)
	if err != nil {
		change.ImpactSimulation = map[string]interface{}{
			"status": "failed",
			"error":  err.Error(),
		}
		if saveErr := s.changes.Save(change); saveErr != nil {
			s.log.Warn().Err(saveErr).Str("change_id", changeID).Msg("Could not persist failed simulation record")
		}
		return nil, fmt.Errorf("simulation failed for change %s: %w", changeID, err)
	}

	change.ImpactSimulation = result
	return result, s.changes.Save(change)
}

// ListPending returns pending changes, optionally scoped to a jurisdiction,
// newest first.
func (s *Service) ListPending(jurisdiction string) ([]*PendingChange, error) {
	return s.changes.List(StatusPendingReview, jurisdiction)
}

// Get loads one change by id.
func (s *Service) Get(changeID string) (*PendingChange, error) {
	return s.changes.Get(changeID)
}

// ExpireStale marks pending changes older than maxAge as expired and returns
// how many were expired.
func (s *Service) ExpireStale(maxAge time.Duration) (int, error) {
	pending, err := s.changes.List(StatusPendingReview, "")
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	expired := 0
	for _, change := range pending {
		if change.CreatedAt.After(cutoff) {
			continue
		}
		change.Status = StatusExpired
		if err := s.changes.Save(change); err != nil {
			return expired, err
		}
		expired++
		s.log.Info().Str("change_id", change.ID).Msg("Expired stale pending change")
	}
	return expired, nil
}

// changeID derives a stable id from the proposal content and creation time.
func changeID(proposal *reasoner.ChangeProposal, now time.Time) string {
	seed := fmt.Sprintf("%s:%s:%v:%s", proposal.TargetFile, proposal.FieldPath, proposal.NewValue, now.Format(time.RFC3339Nano))
	sum := md5.Sum([]byte(seed))
	return "chg_" + hex.EncodeToString(sum[:])[:12]
}

// formatUpdateText renders a regulator update for the reasoner prompt.
func formatUpdateText(update scrapers.Update) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", update.Title)
	fmt.Fprintf(&b, "Source: %s\n", update.Source)
	if update.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", update.Category)
	}
	if !update.PublishedDate.IsZero() {
		fmt.Fprintf(&b, "Published: %s\n", update.PublishedDate.Format("2006-01-02"))
	}
	if update.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", update.URL)
	}
	if update.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", update.Summary)
	}
	return b.String()
}
