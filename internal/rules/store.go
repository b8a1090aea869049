package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rwa-platform/compliance-oracle/internal/events"
)

// contextByteBudget caps the per-jurisdiction regulatory digest embedded in
// reasoner prompts.
const contextByteBudget = 2000

// jurisdictionFiles maps jurisdiction codes to their ruleset documents.
// GB shares the EU document.
var jurisdictionFiles = map[string]string{
	"US": "us_sec_rules.json",
	"SG": "sg_mas_guidelines.json",
	"EU": "eu_mifid_ii.json",
	"GB": "eu_mifid_ii.json",
}

// Provenance records where an applied patch came from.
type Provenance struct {
	ChangeID   string
	OldValue   interface{}
	Summary    string
	Source     string
	ReviewedBy string
}

// BreakingNote is a coarse changelog record for a breaking regulator update
// that produced no field-level proposal.
type BreakingNote struct {
	UpdateID string
	Title    string
	URL      string
}

// Store loads, caches, versions, and patches per-jurisdiction rulesets.
// Mutations serialize per jurisdiction; readers always see a complete
// pre- or post-patch document.
type Store struct {
	dir    string
	log    zerolog.Logger
	events *events.Manager

	mu    sync.Mutex
	cache map[string]Ruleset
	locks map[string]*sync.Mutex
}

// NewStore creates a ruleset store over a backing directory.
func NewStore(dir string, eventManager *events.Manager, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jurisdictions directory: %w", err)
	}
	return &Store{
		dir:    dir,
		log:    log.With().Str("component", "ruleset_store").Logger(),
		events: eventManager,
		cache:  make(map[string]Ruleset),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// FileFor resolves a jurisdiction code to its backing document name.
func FileFor(jurisdiction string) string {
	code := strings.ToUpper(strings.TrimSpace(jurisdiction))
	if name, ok := jurisdictionFiles[code]; ok {
		return name
	}
	return strings.ToLower(code) + "_rules.json"
}

// lockFor returns the mutex serializing mutations for one backing document.
// GB and EU share a document, so they share a lock.
func (s *Store) lockFor(jurisdiction string) *sync.Mutex {
	key := FileFor(jurisdiction)
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[key] = l
	return l
}

// Get returns the cached ruleset for a jurisdiction, loading it on miss.
// A missing document yields an empty ruleset with a warning; a malformed
// document is a configuration error.
func (s *Store) Get(jurisdiction string) (Ruleset, error) {
	key := FileFor(jurisdiction)

	s.mu.Lock()
	if rs, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return rs.Clone(), nil
	}
	s.mu.Unlock()

	rs, err := s.loadFile(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = rs
	s.mu.Unlock()

	return rs.Clone(), nil
}

func (s *Store) loadFile(name string) (Ruleset, error) {
	path := filepath.Join(s.dir, name)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.log.Warn().Str("file", name).Msg("Ruleset file not found, using empty ruleset")
		return Ruleset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ruleset %s: %w", name, err)
	}

	var rs Ruleset
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("ruleset %s is malformed: %w", name, err)
	}
	return rs, nil
}

// Invalidate drops the cached copy for a jurisdiction.
func (s *Store) Invalidate(jurisdiction string) {
	s.mu.Lock()
	delete(s.cache, FileFor(jurisdiction))
	s.mu.Unlock()
}

// VersionString builds a deterministic "A:verA|B:verB" digest in input order,
// or "unknown" when no jurisdiction has a version.
func (s *Store) VersionString(jurisdictions []string) string {
	var parts []string
	for _, j := range jurisdictions {
		rs, err := s.Get(j)
		if err != nil {
			continue
		}
		if v := rs.Version(); v != "" {
			parts = append(parts, fmt.Sprintf("%s:%s", strings.ToUpper(j), v))
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// LoadedVersions reports the version of every document present on disk,
// keyed by jurisdiction code.
func (s *Store) LoadedVersions() map[string]string {
	versions := make(map[string]string)
	for code, name := range jurisdictionFiles {
		if code == "GB" {
			continue // alias of EU
		}
		path := filepath.Join(s.dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		rs, err := s.Get(code)
		if err != nil {
			continue
		}
		if v := rs.Version(); v != "" {
			versions[code] = v
		}
	}
	return versions
}

// Context builds the regulatory digest used in reasoner prompts: only the
// exemptions, investor-definition, and transfer-restriction subtrees, each
// jurisdiction truncated to a byte budget.
func (s *Store) Context(jurisdictions []string) string {
	var parts []string
	for _, j := range jurisdictions {
		rs, err := s.Get(j)
		if err != nil || len(rs) == 0 {
			continue
		}
		relevant := map[string]interface{}{}
		for _, key := range []string{
			"exemptions",
			"investor_definitions",
			"accredited_investor_definition",
			"qualified_purchaser_definition",
			"transfer_restrictions",
		} {
			if v, ok := rs[key]; ok {
				relevant[key] = v
			}
		}
		dump, err := json.MarshalIndent(relevant, "", "  ")
		if err != nil {
			continue
		}
		if len(dump) > contextByteBudget {
			dump = dump[:contextByteBudget]
		}
		parts = append(parts, fmt.Sprintf("=== %s Regulations ===\n%s", strings.ToUpper(j), dump))
	}
	return strings.Join(parts, "\n\n")
}

// ApplyPatch writes a field-level change into a jurisdiction's ruleset,
// bumps the version, appends a changelog entry, and persists atomically.
// A recorded old value that disagrees with the observed value is logged as
// drift and noted on the changelog entry; the patch still proceeds.
func (s *Store) ApplyPatch(jurisdiction, path string, newValue interface{}, prov Provenance) (string, error) {
	lock := s.lockFor(jurisdiction)
	lock.Lock()
	defer lock.Unlock()

	key := FileFor(jurisdiction)
	rs, err := s.loadFile(key)
	if err != nil {
		return "", err
	}

	// Patches applied outside the oracle review queue still get a traceable id.
	if prov.ChangeID == "" {
		prov.ChangeID = "manual_" + uuid.NewString()[:8]
	}

	now := time.Now()
	observed, _ := ReadPath(rs, path)

	var driftNote string
	if !jsonEqual(observed, prov.OldValue) {
		driftNote = fmt.Sprintf("observed value %v differed from recorded old value %v at apply time", observed, prov.OldValue)
		s.log.Warn().
			Str("jurisdiction", jurisdiction).
			Str("field", path).
			Interface("observed", observed).
			Interface("recorded", prov.OldValue).
			Msg("Value drift detected, applying patch anyway")
	}

	WritePath(rs, path, newValue)

	newVersion := nextVersion(rs.Version(), now)
	rs["version"] = newVersion
	rs["last_updated"] = now.Format("2006-01-02")
	rs["last_oracle_update"] = map[string]interface{}{
		"change_id":   prov.ChangeID,
		"field":       path,
		"old_value":   prov.OldValue,
		"new_value":   newValue,
		"applied_at":  now.Format(time.RFC3339),
		"reviewed_by": prov.ReviewedBy,
	}

	entry := map[string]interface{}{
		"date":      now.Format(time.RFC3339),
		"change_id": prov.ChangeID,
		"field":     path,
		"old_value": prov.OldValue,
		"new_value": newValue,
		"summary":   prov.Summary,
		"source":    prov.Source,
	}
	if driftNote != "" {
		entry["drift_warning"] = driftNote
	}
	rs["changelog"] = appendCapped(rs.Changelog(), entry)

	if err := s.save(key, rs); err != nil {
		return "", err
	}

	s.log.Info().
		Str("jurisdiction", jurisdiction).
		Str("field", path).
		Str("version", newVersion).
		Str("change_id", prov.ChangeID).
		Msg("Applied ruleset patch")

	if s.events != nil {
		s.events.Emit(events.RulesChanged, "rules", map[string]interface{}{
			"jurisdiction": strings.ToUpper(jurisdiction),
			"version":      newVersion,
			"change_id":    prov.ChangeID,
		})
	}

	return newVersion, nil
}

// NoteBreakingChanges appends coarse changelog entries for breaking updates
// that produced no field-level proposal, bumping the version once.
func (s *Store) NoteBreakingChanges(jurisdiction string, notes []BreakingNote) (string, error) {
	if len(notes) == 0 {
		return "", nil
	}

	lock := s.lockFor(jurisdiction)
	lock.Lock()
	defer lock.Unlock()

	key := FileFor(jurisdiction)
	rs, err := s.loadFile(key)
	if err != nil {
		return "", err
	}

	now := time.Now()
	changelog := rs.Changelog()
	for _, n := range notes {
		changelog = append(changelog, map[string]interface{}{
			"date":      now.Format(time.RFC3339),
			"update_id": n.UpdateID,
			"title":     n.Title,
			"url":       n.URL,
			"source":    "scraper",
		})
	}
	if len(changelog) > ChangelogCap {
		changelog = changelog[len(changelog)-ChangelogCap:]
	}

	newVersion := nextVersion(rs.Version(), now)
	rs["version"] = newVersion
	rs["last_updated"] = now.Format("2006-01-02")
	rs["changelog"] = changelog

	if err := s.save(key, rs); err != nil {
		return "", err
	}

	s.log.Info().
		Str("jurisdiction", jurisdiction).
		Str("version", newVersion).
		Int("notes", len(notes)).
		Msg("Recorded breaking regulator updates")

	if s.events != nil {
		s.events.Emit(events.RulesChanged, "rules", map[string]interface{}{
			"jurisdiction": strings.ToUpper(jurisdiction),
			"version":      newVersion,
		})
	}

	return newVersion, nil
}

// History returns the most recent applied-change records, newest last.
func (s *Store) History(jurisdiction string, limit int) ([]interface{}, error) {
	rs, err := s.Get(jurisdiction)
	if err != nil {
		return nil, err
	}
	changelog := rs.Changelog()
	if limit > 0 && len(changelog) > limit {
		changelog = changelog[len(changelog)-limit:]
	}
	return changelog, nil
}

// save persists a ruleset atomically (write temp, rename) and refreshes the
// cache under the store lock.
func (s *Store) save(key string, rs Ruleset) error {
	raw, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ruleset %s: %w", key, err)
	}

	path := filepath.Join(s.dir, key)
	tmp, err := os.CreateTemp(s.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write ruleset %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ruleset %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = rs
	s.mu.Unlock()

	return nil
}

// nextVersion produces the calendar-dotted version following current:
// YYYY.MM.DD.NNN with a within-day counter.
func nextVersion(current string, now time.Time) string {
	prefix := now.Format("2006.01.02")
	counter := 1
	if strings.HasPrefix(current, prefix+".") {
		if n, err := strconv.Atoi(current[len(prefix)+1:]); err == nil {
			counter = n + 1
		}
	}
	return fmt.Sprintf("%s.%03d", prefix, counter)
}

// appendCapped appends one changelog entry and trims to the cap.
func appendCapped(changelog []interface{}, entry interface{}) []interface{} {
	changelog = append(changelog, entry)
	if len(changelog) > ChangelogCap {
		changelog = changelog[len(changelog)-ChangelogCap:]
	}
	return changelog
}

// jsonEqual compares two values by their JSON encodings, so 250000 and
// 250000.0 read back from disk compare equal.
func jsonEqual(a, b interface{}) bool {
	ra, errA := json.Marshal(normalizeNumber(a))
	rb, errB := json.Marshal(normalizeNumber(b))
	if errA != nil || errB != nil {
		return false
	}
	return string(ra) == string(rb)
}

func normalizeNumber(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

// SortedJurisdictions lists the jurisdiction codes with documents on disk,
// sorted for deterministic output.
func (s *Store) SortedJurisdictions() []string {
	versions := s.LoadedVersions()
	codes := make([]string, 0, len(versions))
	for code := range versions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
