// Package scrapers ingests regulator publications and normalizes them into
// regulatory updates for the oracle pipeline.
package scrapers

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

// FeedKind describes how a scraper obtains its entries.
type FeedKind string

const (
	FeedKindFeed   FeedKind = "feed"
	FeedKindAPI    FeedKind = "api"
	FeedKindScrape FeedKind = "scrape"
)

// entryCap bounds the number of entries taken from one page or feed.
const entryCap = 20

// breakingLexicon is shared across scrapers. A title or summary matching any
// of these marks the update as a breaking change.
var breakingLexicon = []string{
	"amendment",
	"repeal",
	"new rule",
	"effective immediately",
	"threshold change",
	"definition change",
	"final rule",
	"supersedes",
	"revised",
	"consultation paper",
}

// Update is an immutable regulatory update emitted by a scraper.
type Update struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Summary          string    `json:"summary"`
	URL              string    `json:"url"`
	PublishedDate    time.Time `json:"published_date"`
	Source           string    `json:"source"`
	Category         string    `json:"category"`
	KeywordsMatched  []string  `json:"keywords_matched"`
	IsBreakingChange bool      `json:"is_breaking_change"`
}

// Scraper is one regulator feed.
type Scraper interface {
	Name() string
	Jurisdiction() string
	BaseURL() string
	FeedKind() FeedKind
	UpdateFrequency() time.Duration

	// Fetch returns relevant updates within the scraper's lookback window.
	// Transient errors on individual pages are logged, not returned; only a
	// total failure yields an error.
	Fetch(ctx context.Context) ([]Update, error)
}

// UpdateID derives a stable 12-char id from the update's source URL.
func UpdateID(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:12]
}

// matchKeywords returns the lexicon entries found in title+summary,
// case-insensitive whole-substring.
func matchKeywords(title, summary string, lexicon []string) []string {
	text := strings.ToLower(title + " " + summary)
	var matched []string
	for _, kw := range lexicon {
		if strings.Contains(text, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// isBreaking reports whether title+summary matches the breaking lexicon.
func isBreaking(title, summary string) bool {
	return len(matchKeywords(title, summary, breakingLexicon)) > 0
}

// withinLookback is the cutoff filter; the boundary is inclusive.
func withinLookback(published, now time.Time, lookback time.Duration) bool {
	cutoff := now.Add(-lookback)
	return !published.Before(cutoff)
}
