package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwa-platform/compliance-oracle/internal/reasoner"
	"github.com/rwa-platform/compliance-oracle/internal/rules"
	"github.com/rwa-platform/compliance-oracle/internal/scrapers"
	"github.com/rwa-platform/compliance-oracle/internal/simulator"
)

type fakeAnalyzer struct {
	proposal *reasoner.ChangeProposal
	err      error
}

func (f *fakeAnalyzer) AnalyzeRegulatoryImpact(ctx context.Context, updateText string, currentRules map[string]interface{}, jurisdiction, targetFile string) (*reasoner.ChangeProposal, error) {
	return f.proposal, f.err
}

type fakeSimulator struct {
	result *simulator.Result
	err    error
	calls  int
}

func (f *fakeSimulator) SimulateChange(ctx context.Context, proposal *reasoner.ChangeProposal, proposalID string, useMock bool) (*simulator.Result, error) {
	f.calls++
	return f.result, f.err
}

func testUpdate() scrapers.Update {
	return scrapers.Update{
		ID:            "abc123def456",
		Title:         "Final Rule: Accredited Investor Definition",
		Summary:       "Income thresholds raised.",
		URL:           "https://www.sec.gov/rules/final/2026/33-11234.htm",
		PublishedDate: time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
		Source:        "SEC",
		Category:      "rules",
	}
}

func testProposal(confidence float64) *reasoner.ChangeProposal {
	return &reasoner.ChangeProposal{
		IsRelevant: true,
		Confidence: confidence,
		Summary:    "Raise the individual income threshold",
		TargetFile: "us_sec_rules.json",
		FieldPath:  "exemptions.reg_d_506b.requirements.max_non_accredited_investors",
		OldValue:   35.0,
		NewValue:   20.0,
	}
}

func newTestService(t *testing.T, analyzer impactAnalyzer, sim changeSimulator) (*Service, *rules.Store, *ChangeStore) {
	t.Helper()

	rulesDir := t.TempDir()
	seed := rules.Ruleset{
		"exemptions": map[string]interface{}{
			"reg_d_506b": map[string]interface{}{
				"requirements": map[string]interface{}{
					"max_non_accredited_investors": 35.0,
				},
			},
		},
	}
	raw, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "us_sec_rules.json"), raw, 0644))

	rulesStore, err := rules.NewStore(rulesDir, nil, zerolog.Nop())
	require.NoError(t, err)

	changes, err := NewChangeStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	svc := New(Config{
		Analyzer:  analyzer,
		Rules:     rulesStore,
		Simulator: sim,
		Changes:   changes,
	}, zerolog.Nop())
	return svc, rulesStore, changes
}

func TestProcessUpdateNotRelevant(t *testing.T) {
	analyzer := &fakeAnalyzer{proposal: &reasoner.ChangeProposal{IsRelevant: false, Confidence: 0.2}}
	svc, _, changes := newTestService(t, analyzer, nil)

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.NoError(t, err)
	assert.Equal(t, "not_relevant", outcome.Status)

	pending, err := changes.List(StatusPendingReview, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessUpdateConfidenceFloor(t *testing.T) {
	// Just below the floor drops, exactly at the floor admits.
	analyzer := &fakeAnalyzer{proposal: testProposal(0.74)}
	svc, _, changes := newTestService(t, analyzer, nil)

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.NoError(t, err)
	assert.Equal(t, "low_confidence", outcome.Status)
	assert.Equal(t, 0.74, outcome.Confidence)
	assert.NotNil(t, outcome.Proposal, "dropped proposals are still reported in the outcome")

	analyzer.proposal = testProposal(0.75)
	outcome, err = svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.NoError(t, err)
	assert.Equal(t, "proposal_created", outcome.Status)
	assert.NotEmpty(t, outcome.ChangeID)

	pending, err := changes.List(StatusPendingReview, "US")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestProcessUpdateCreatesProposal(t *testing.T) {
	sim := &fakeSimulator{result: &simulator.Result{SimulationID: "sim_1", Severity: simulator.SeverityMedium}}
	svc, _, changes := newTestService(t, &fakeAnalyzer{proposal: testProposal(0.9)}, sim)

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "us")
	require.NoError(t, err)
	assert.Equal(t, "proposal_created", outcome.Status)
	assert.Equal(t, 1, sim.calls, "admission triggers an automatic simulation")

	change, err := changes.Get(outcome.ChangeID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, change.Status)
	assert.Equal(t, "US", change.Jurisdiction, "jurisdiction is normalized")
	assert.Equal(t, "abc123def456", change.SourceUpdate.ID)
	assert.NotNil(t, change.ImpactSimulation)
}

func TestProcessUpdateDefaultsTargetFile(t *testing.T) {
	proposal := testProposal(0.9)
	proposal.TargetFile = ""
	svc, _, changes := newTestService(t, &fakeAnalyzer{proposal: proposal}, nil)

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.NoError(t, err)

	change, err := changes.Get(outcome.ChangeID)
	require.NoError(t, err)
	assert.Equal(t, "us_sec_rules.json", change.Proposal.TargetFile)
}

func TestProcessUpdateAnalyzerFailure(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeAnalyzer{err: errors.New("model timeout")}, nil)

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.Error(t, err)
	assert.Equal(t, "error", outcome.Status)
}

func TestProcessUpdateSimulationFailureStillQueues(t *testing.T) {
	sim := &fakeSimulator{err: errors.New("investor service down")}
	svc, _, changes := newTestService(t, &fakeAnalyzer{proposal: testProposal(0.9)}, sim)

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.NoError(t, err, "a failed simulation must not block the proposal")
	assert.Equal(t, "proposal_created", outcome.Status)

	change, err := changes.Get(outcome.ChangeID)
	require.NoError(t, err)
	record, ok := change.ImpactSimulation.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "failed", record["status"])
}

func TestApproveAndApply(t *testing.T) {
	svc, rulesStore, _ := newTestService(t, &fakeAnalyzer{proposal: testProposal(0.9)}, nil)

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.NoError(t, err)

	change, err := svc.Approve(outcome.ChangeID, "alice@rwa-platform.com", "verified against the federal register", true)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, change.Status)
	assert.NotNil(t, change.AppliedAt)
	assert.Equal(t, "alice@rwa-platform.com", change.ReviewedBy)

	rs, err := rulesStore.Get("US")
	require.NoError(t, err)
	got, ok := rules.ReadPath(rs, "exemptions.reg_d_506b.requirements.max_non_accredited_investors")
	require.True(t, ok)
	assert.Equal(t, 20.0, got)

	entry := rs.Changelog()[0].(map[string]interface{})
	assert.Equal(t, change.ID, entry["change_id"])
	assert.Equal(t, testUpdate().URL, entry["source"], "provenance points at the regulator update")
}

func TestApproveWithoutApply(t *testing.T) {
	svc, rulesStore, changes := newTestService(t, &fakeAnalyzer{proposal: testProposal(0.9)}, nil)

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.NoError(t, err)

	change, err := svc.Approve(outcome.ChangeID, "alice@rwa-platform.com", "", false)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, change.Status)
	assert.Nil(t, change.AppliedAt)

	rs, err := rulesStore.Get("US")
	require.NoError(t, err)
	got, _ := rules.ReadPath(rs, "exemptions.reg_d_506b.requirements.max_non_accredited_investors")
	assert.Equal(t, 35.0, got, "approval without apply leaves the ruleset untouched")

	persisted, err := changes.Get(change.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, persisted.Status)
}

func TestApproveRequiresPendingStatus(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeAnalyzer{proposal: testProposal(0.9)}, nil)

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.NoError(t, err)

	_, err = svc.Reject(outcome.ChangeID, "bob@rwa-platform.com", "duplicate of an earlier change")
	require.NoError(t, err)

	_, err = svc.Approve(outcome.ChangeID, "alice@rwa-platform.com", "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only pending_review changes can be approved")
}

func TestRejectRecordsReview(t *testing.T) {
	svc, _, changes := newTestService(t, &fakeAnalyzer{proposal: testProposal(0.9)}, nil)

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.NoError(t, err)

	change, err := svc.Reject(outcome.ChangeID, "bob@rwa-platform.com", "threshold misread by the model")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, change.Status)
	assert.Equal(t, "threshold misread by the model", change.ReviewNotes)
	assert.NotNil(t, change.ReviewedAt)

	pending, err := changes.List(StatusPendingReview, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunSimulationStoresResult(t *testing.T) {
	sim := &fakeSimulator{result: &simulator.Result{SimulationID: "sim_2", ImpactedCount: 7}}
	svc, _, changes := newTestService(t, &fakeAnalyzer{proposal: testProposal(0.9)}, sim)

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.NoError(t, err)

	result, err := svc.RunSimulation(context.Background(), outcome.ChangeID, false)
	require.NoError(t, err)
	assert.Equal(t, "sim_2", result.SimulationID)

	change, err := changes.Get(outcome.ChangeID)
	require.NoError(t, err)
	stored, ok := change.ImpactSimulation.(map[string]interface{})
	require.True(t, ok, "simulation round-trips through JSON on disk")
	assert.Equal(t, "sim_2", stored["simulation_id"])
}

func TestExpireStale(t *testing.T) {
	svc, _, changes := newTestService(t, &fakeAnalyzer{proposal: testProposal(0.9)}, nil)

	stale := &PendingChange{
		ID:           "chg_stale000001",
		CreatedAt:    time.Now().Add(-40 * 24 * time.Hour),
		Jurisdiction: "US",
		Status:       StatusPendingReview,
		Proposal:     *testProposal(0.9),
	}
	require.NoError(t, changes.Save(stale))

	outcome, err := svc.ProcessUpdate(context.Background(), testUpdate(), "US")
	require.NoError(t, err)

	expired, err := svc.ExpireStale(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	change, err := changes.Get("chg_stale000001")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, change.Status)

	fresh, err := changes.Get(outcome.ChangeID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, fresh.Status, "recent changes stay pending")
}

func TestChangeIDFormat(t *testing.T) {
	now := time.Now()
	id := changeID(testProposal(0.9), now)
	assert.Len(t, id, 16)
	assert.Regexp(t, "^chg_[0-9a-f]{12}$", id)

	assert.Equal(t, id, changeID(testProposal(0.9), now), "same content and time yields the same id")
	assert.NotEqual(t, id, changeID(testProposal(0.9), now.Add(time.Nanosecond)))
}

func TestChangeStoreGetMissing(t *testing.T) {
	changes, err := NewChangeStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	_, err = changes.Get("chg_nope")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestChangeStoreListFiltersAndOrders(t *testing.T) {
	changes, err := NewChangeStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	base := time.Now()
	for i, spec := range []struct {
		id           string
		jurisdiction string
		status       Status
	}{
		{"chg_aaa000000001", "US", StatusPendingReview},
		{"chg_bbb000000002", "SG", StatusPendingReview},
		{"chg_ccc000000003", "US", StatusApplied},
	} {
		require.NoError(t, changes.Save(&PendingChange{
			ID:           spec.id,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			Jurisdiction: spec.jurisdiction,
			Status:       spec.status,
		}))
	}

	pending, err := changes.List(StatusPendingReview, "")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "chg_bbb000000002", pending[0].ID, "newest first")

	usOnly, err := changes.List(StatusPendingReview, "us")
	require.NoError(t, err)
	require.Len(t, usOnly, 1)
	assert.Equal(t, "chg_aaa000000001", usOnly[0].ID)

	all, err := changes.List("", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFormatUpdateText(t *testing.T) {
	text := formatUpdateText(testUpdate())
	assert.Contains(t, text, "Title: Final Rule: Accredited Investor Definition")
	assert.Contains(t, text, "Source: SEC")
	assert.Contains(t, text, "Category: rules")
	assert.Contains(t, text, "Published: 2026-08-25")
	assert.Contains(t, text, "Income thresholds raised.")
}
