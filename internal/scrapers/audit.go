package scrapers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AuditTrail persists fetched updates as append-only timestamped JSON files,
// one directory per source.
type AuditTrail struct {
	root string
	log  zerolog.Logger
}

// NewAuditTrail creates an audit trail rooted at the regulatory-updates dir.
func NewAuditTrail(root string, log zerolog.Logger) *AuditTrail {
	return &AuditTrail{
		root: root,
		log:  log.With().Str("component", "scraper_audit").Logger(),
	}
}

type auditDocument struct {
	FetchedAt string   `json:"fetched_at"`
	Count     int      `json:"count"`
	Updates   []Update `json:"updates"`
}

// Save writes one fetch's updates and returns the file path. Nothing is
// written for an empty batch.
func (a *AuditTrail) Save(source string, updates []Update) (string, error) {
	if len(updates) == 0 {
		return "", nil
	}

	dir := filepath.Join(a.root, strings.ToLower(source))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create audit directory for %s: %w", source, err)
	}

	now := time.Now()
	name := fmt.Sprintf("%s_updates_%s.json", strings.ToLower(source), now.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	raw, err := json.MarshalIndent(auditDocument{
		FetchedAt: now.Format(time.RFC3339),
		Count:     len(updates),
		Updates:   updates,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode audit document for %s: %w", source, err)
	}

	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", fmt.Errorf("failed to write audit file for %s: %w", source, err)
	}

	a.log.Info().Str("source", source).Int("count", len(updates)).Str("file", path).Msg("Saved scraper audit file")
	return path, nil
}
