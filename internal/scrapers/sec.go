package scrapers

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const secUserAgent = "RWA-Platform-Compliance-Monitor support@rwa-platform.com"

// secFeeds are the EDGAR feeds checked each tick, in order.
var secFeeds = []struct {
	category string
	url      string
}{
	{"rules", "https://www.sec.gov/cgi-bin/browse-edgar?action=getcurrent&type=RULE&owner=include&count=40&output=atom"},
	{"no_action", "https://www.sec.gov/cgi-bin/browse-edgar?action=getcurrent&type=NO-ACT&owner=include&count=40&output=atom"},
	{"releases", "https://www.sec.gov/news/pressreleases.rss"},
}

// secRelevanceLexicon marks SEC entries worth feeding to the oracle.
var secRelevanceLexicon = []string{
	"regulation d",
	"reg d",
	"accredited investor",
	"qualified purchaser",
	"private placement",
	"rule 506",
	"rule 144",
	"holding period",
	"securities offering",
	"digital asset",
	"tokenized",
	"blockchain",
	"exempt offering",
}

// SECScraper monitors SEC EDGAR for Regulation D amendments, accredited
// investor definition changes, no-action letters, and Rule 144 modifications.
type SECScraper struct {
	client   *http.Client
	log      zerolog.Logger
	lookback time.Duration
}

// NewSECScraper creates the SEC EDGAR scraper with a 24 hour lookback.
func NewSECScraper(log zerolog.Logger) *SECScraper {
	return &SECScraper{
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log.With().Str("component", "sec_scraper").Logger(),
		lookback: 24 * time.Hour,
	}
}

func (s *SECScraper) Name() string                   { return "SEC" }
func (s *SECScraper) Jurisdiction() string           { return "US" }
func (s *SECScraper) BaseURL() string                { return "https://www.sec.gov" }
func (s *SECScraper) FeedKind() FeedKind             { return FeedKindFeed }
func (s *SECScraper) UpdateFrequency() time.Duration { return 24 * time.Hour }

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID      string `xml:"id"`
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
	Updated string `xml:"updated"`
	Link    struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

// Fetch checks all EDGAR feeds and returns relevant updates inside the
// lookback window. A feed that fails to fetch or parse is skipped.
func (s *SECScraper) Fetch(ctx context.Context) ([]Update, error) {
	now := time.Now()
	var updates []Update

	for _, feed := range secFeeds {
		s.log.Info().Str("category", feed.category).Msg("Checking SEC feed")

		content, err := s.fetchFeed(ctx, feed.url)
		if err != nil {
			s.log.Error().Str("url", feed.url).Err(err).Msg("Failed to fetch SEC feed")
			continue
		}

		entries, err := parseAtomFeed(content)
		if err != nil {
			s.log.Error().Str("url", feed.url).Err(err).Msg("Failed to parse SEC feed")
			continue
		}
		if len(entries) > entryCap {
			entries = entries[:entryCap]
		}

		for _, entry := range entries {
			matched := matchKeywords(entry.Title, entry.Summary, secRelevanceLexicon)
			if len(matched) == 0 {
				continue
			}

			published := parseAtomTime(entry.Updated, now)
			if !withinLookback(published, now, s.lookback) {
				continue
			}

			update := Update{
				ID:               UpdateID(entry.Link.Href),
				Title:            entry.Title,
				Summary:          entry.Summary,
				URL:              entry.Link.Href,
				PublishedDate:    published,
				Source:           s.Name(),
				Category:         feed.category,
				KeywordsMatched:  matched,
				IsBreakingChange: isBreaking(entry.Title, entry.Summary),
			}
			updates = append(updates, update)
			s.log.Info().Str("title", update.Title).Bool("breaking", update.IsBreakingChange).Msg("Found relevant SEC update")
		}
	}

	return updates, nil
}

func (s *SECScraper) fetchFeed(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("User-Agent", secUserAgent)
	req.Header.Set("Accept", "application/atom+xml, application/xml, text/xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// parseAtomFeed extracts entries from an Atom document. Non-Atom content
// (the press-release feed is RSS) parses to zero entries, not an error.
func parseAtomFeed(content []byte) ([]atomEntry, error) {
	var feed atomFeed
	if err := xml.Unmarshal(content, &feed); err != nil {
		return nil, err
	}
	return feed.Entries, nil
}

// parseAtomTime parses an Atom timestamp, falling back to now so an entry
// with a mangled date is treated as fresh rather than dropped.
func parseAtomTime(s string, now time.Time) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return now
}
