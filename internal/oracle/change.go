package oracle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rwa-platform/compliance-oracle/internal/reasoner"
	"github.com/rwa-platform/compliance-oracle/internal/scrapers"
)

// Status is the review state of a pending change.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusApplied       Status = "applied"
	StatusExpired       Status = "expired"
)

// PendingChange is a proposed ruleset patch awaiting human review. It is
// persisted as one JSON document per change.
type PendingChange struct {
	ID           string                  `json:"id"`
	CreatedAt    time.Time               `json:"created_at"`
	Jurisdiction string                  `json:"jurisdiction"`
	Status       Status                  `json:"status"`
	Proposal     reasoner.ChangeProposal `json:"proposal"`
	SourceUpdate scrapers.Update         `json:"source_update"`

	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`

	// ImpactSimulation holds the latest simulation result, or a
	// {"status": "failed", "error": ...} record when simulation errored.
	ImpactSimulation interface{} `json:"impact_simulation,omitempty"`
}

// ChangeStore persists pending changes as individual JSON files.
type ChangeStore struct {
	dir string
	log zerolog.Logger
	mu  sync.Mutex
}

// NewChangeStore creates a store over a backing directory.
func NewChangeStore(dir string, log zerolog.Logger) (*ChangeStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pending changes directory: %w", err)
	}
	return &ChangeStore{
		dir: dir,
		log: log.With().Str("component", "change_store").Logger(),
	}, nil
}

// Save persists a change atomically (write temp, rename).
func (s *ChangeStore) Save(change *PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(change, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode change %s: %w", change.ID, err)
	}

	path := filepath.Join(s.dir, change.ID+".json")
	tmp, err := os.CreateTemp(s.dir, change.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", change.ID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write change %s: %w", change.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", change.ID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace change %s: %w", change.ID, err)
	}
	return nil
}

// Get loads one change by id. Returns os.ErrNotExist when absent.
func (s *ChangeStore) Get(id string) (*PendingChange, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, err
	}
	var change PendingChange
	if err := json.Unmarshal(raw, &change); err != nil {
		return nil, fmt.Errorf("change %s is malformed: %w", id, err)
	}
	return &change, nil
}

// List returns changes matching the filters, newest first. Empty status or
// jurisdiction means "any". Malformed files are skipped with a warning.
func (s *ChangeStore) List(status Status, jurisdiction string) ([]*PendingChange, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending changes directory: %w", err)
	}

	jurisdiction = strings.ToUpper(strings.TrimSpace(jurisdiction))
	var changes []*PendingChange
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		change, err := s.Get(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			s.log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable change file")
			continue
		}
		if status != "" && change.Status != status {
			continue
		}
		if jurisdiction != "" && strings.ToUpper(change.Jurisdiction) != jurisdiction {
			continue
		}
		changes = append(changes, change)
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].CreatedAt.After(changes[j].CreatedAt)
	})
	return changes, nil
}
