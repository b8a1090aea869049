package scrapers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwa-platform/compliance-oracle/internal/database"
)

func TestUpdateID(t *testing.T) {
	id := UpdateID("https://www.sec.gov/rules/final/2026/33-11234.htm")
	assert.Len(t, id, 12)
	assert.Regexp(t, "^[0-9a-f]{12}$", id)

	assert.Equal(t, id, UpdateID("https://www.sec.gov/rules/final/2026/33-11234.htm"), "same URL must yield the same id")
	assert.NotEqual(t, id, UpdateID("https://www.sec.gov/rules/final/2026/33-11235.htm"))
}

func TestMatchKeywords(t *testing.T) {
	matched := matchKeywords(
		"SEC Adopts Amendments to the Accredited Investor Definition",
		"The amendments modernize Rule 506 offerings.",
		secRelevanceLexicon,
	)
	assert.Contains(t, matched, "accredited investor")
	assert.Contains(t, matched, "rule 506")

	assert.Empty(t, matchKeywords("Staff announcement", "Holiday schedule", secRelevanceLexicon))
}

func TestIsBreaking(t *testing.T) {
	assert.True(t, isBreaking("Final Rule: Accredited Investor Thresholds", ""))
	assert.True(t, isBreaking("MAS Consultation Paper on DPT Services", ""))
	assert.True(t, isBreaking("Notice", "This notice supersedes circular 14/2025."))
	assert.False(t, isBreaking("Speech by the Chair", "Remarks at the annual conference."))
}

func TestWithinLookbackInclusiveBoundary(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	lookback := 24 * time.Hour

	assert.True(t, withinLookback(now, now, lookback))
	assert.True(t, withinLookback(now.Add(-24*time.Hour), now, lookback), "an entry exactly at the cutoff is kept")
	assert.False(t, withinLookback(now.Add(-24*time.Hour-time.Second), now, lookback))
}

const sampleAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Latest Filings</title>
  <entry>
    <id>urn:sec:rule:33-11234</id>
    <title>Final Rule: Accredited Investor Definition</title>
    <summary>Amendments to the income thresholds under Regulation D.</summary>
    <updated>2026-08-25T14:30:00-04:00</updated>
    <link href="https://www.sec.gov/rules/final/2026/33-11234.htm"/>
  </entry>
  <entry>
    <id>urn:sec:noact:2026-112</id>
    <title>No-Action Letter: Tokenized Fund Interests</title>
    <summary>Staff position on secondary transfers.</summary>
    <updated>2026-08-25T09:00:00-04:00</updated>
    <link href="https://www.sec.gov/divisions/corpfin/2026-112.htm"/>
  </entry>
</feed>`

func TestParseAtomFeed(t *testing.T) {
	entries, err := parseAtomFeed([]byte(sampleAtom))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Final Rule: Accredited Investor Definition", entries[0].Title)
	assert.Equal(t, "https://www.sec.gov/rules/final/2026/33-11234.htm", entries[0].Link.Href)
	assert.Equal(t, "2026-08-25T14:30:00-04:00", entries[0].Updated)
}

func TestParseAtomFeedNonAtomContent(t *testing.T) {
	rss := `<?xml version="1.0"?><rss version="2.0"><channel><item><title>Press Release</title></item></channel></rss>`
	entries, err := parseAtomFeed([]byte(rss))
	require.NoError(t, err, "RSS content is not an error, just yields no entries")
	assert.Empty(t, entries)

	_, err = parseAtomFeed([]byte("not xml at all"))
	assert.Error(t, err)
}

func TestParseAtomTime(t *testing.T) {
	now := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	parsed := parseAtomTime("2026-08-25T14:30:00-04:00", now)
	assert.Equal(t, 2026, parsed.Year())
	assert.Equal(t, time.August, parsed.Month())

	parsed = parseAtomTime("2026-08-20", now)
	assert.Equal(t, 20, parsed.Day())

	assert.Equal(t, now, parseAtomTime("last Tuesday", now), "unparseable dates fall back to now")
}

func TestParseMASDate(t *testing.T) {
	now := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	for _, raw := range []string{"25 Aug 2026", "25 August 2026", "2026-08-25", "25/08/2026", "August 25, 2026"} {
		parsed := parseMASDate(raw, now)
		assert.Equalf(t, 25, parsed.Day(), "layout %q", raw)
		assert.Equalf(t, time.August, parsed.Month(), "layout %q", raw)
	}

	assert.Equal(t, now, parseMASDate("yesterday", now))
}

const sampleMASListing = `<html><body>
<div class="news-item">
  <h3 class="title">Consultation Paper on Digital Payment Token Services</h3>
  <p class="summary">MAS seeks comments on proposed amendments to DPT custody requirements.</p>
  <span class="date">25 Aug 2026</span>
  <a href="/news/media-releases/2026/dpt-consultation">Read more</a>
</div>
<div class="news-item">
  <h3 class="title">MAS Annual Report 2025/26</h3>
  <span class="date">24 Aug 2026</span>
  <a href="https://www.mas.gov.sg/annual-report">Read more</a>
</div>
</body></html>`

func TestParseListingNewsItems(t *testing.T) {
	scraper := NewMASScraper(zerolog.Nop())

	entries := scraper.parseListing([]byte(sampleMASListing))
	require.Len(t, entries, 2)

	assert.Equal(t, "Consultation Paper on Digital Payment Token Services", entries[0].title)
	assert.Equal(t, "MAS seeks comments on proposed amendments to DPT custody requirements.", entries[0].summary)
	assert.Equal(t, "25 Aug 2026", entries[0].date)
	assert.Equal(t, "https://www.mas.gov.sg/news/media-releases/2026/dpt-consultation", entries[0].url,
		"relative links are resolved against the MAS base URL")

	assert.Equal(t, "https://www.mas.gov.sg/annual-report", entries[1].url)
	assert.Empty(t, entries[1].summary)
}

func TestParseListingArticleFallback(t *testing.T) {
	scraper := NewMASScraper(zerolog.Nop())

	page := `<html><body>
<article>
  <h2 class="heading">Revised Guidelines on Accredited Investor Opt-In</h2>
  <a href="/regulation/guidelines/ai-opt-in">Details</a>
</article>
</body></html>`
	entries := scraper.parseListing([]byte(page))
	require.Len(t, entries, 1)
	assert.Equal(t, "Revised Guidelines on Accredited Investor Opt-In", entries[0].title)
}

func TestParseListingUnrecognizedMarkup(t *testing.T) {
	scraper := NewMASScraper(zerolog.Nop())
	assert.Empty(t, scraper.parseListing([]byte("<html><body><p>maintenance page</p></body></html>")))
}

func TestAuditTrailSave(t *testing.T) {
	dir := t.TempDir()
	audit := NewAuditTrail(dir, zerolog.Nop())

	updates := []Update{
		{ID: "abc123def456", Title: "Final Rule", URL: "https://www.sec.gov/x", Source: "SEC"},
	}
	path, err := audit.Save("SEC", updates)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, filepath.Join(dir, "sec"), filepath.Dir(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc auditDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 1, doc.Count)
	require.Len(t, doc.Updates, 1)
	assert.Equal(t, "abc123def456", doc.Updates[0].ID)
}

func TestAuditTrailSkipsEmptyBatch(t *testing.T) {
	audit := NewAuditTrail(t.TempDir(), zerolog.Nop())
	path, err := audit.Save("SEC", nil)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "compliance.db"),
		Profile: database.ProfileStandard,
		Name:    "compliance-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestSeenRepositoryFilterNew(t *testing.T) {
	repo := NewSeenRepository(newTestDB(t))

	batch := []Update{
		{ID: "aaa111aaa111", Title: "First", URL: "https://www.sec.gov/a"},
		{ID: "bbb222bbb222", Title: "Second", URL: "https://www.sec.gov/b"},
	}

	fresh, err := repo.FilterNew("SEC", batch)
	require.NoError(t, err)
	assert.Len(t, fresh, 2, "first sighting passes everything through")

	// Re-running the same batch yields nothing new.
	fresh, err = repo.FilterNew("SEC", batch)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	// A new id among known ones comes through alone.
	batch = append(batch, Update{ID: "ccc333ccc333", Title: "Third", URL: "https://www.sec.gov/c"})
	fresh, err = repo.FilterNew("SEC", batch)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "ccc333ccc333", fresh[0].ID)

	// The same id under another source is still fresh.
	fresh, err = repo.FilterNew("MAS", batch[:1])
	require.NoError(t, err)
	assert.Len(t, fresh, 1)

	count, err := repo.Count("SEC")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSeenRepositoryEmptyBatch(t *testing.T) {
	repo := NewSeenRepository(newTestDB(t))
	fresh, err := repo.FilterNew("SEC", nil)
	require.NoError(t, err)
	assert.Nil(t, fresh)
}

type staticScraper struct {
	updates []Update
	err     error
}

func (s *staticScraper) Name() string                   { return "STATIC" }
func (s *staticScraper) Jurisdiction() string           { return "US" }
func (s *staticScraper) BaseURL() string                { return "https://example.org" }
func (s *staticScraper) FeedKind() FeedKind             { return FeedKindFeed }
func (s *staticScraper) UpdateFrequency() time.Duration { return time.Hour }
func (s *staticScraper) Fetch(ctx context.Context) ([]Update, error) {
	return s.updates, s.err
}

func TestRunnerDedupsAndAudits(t *testing.T) {
	updates := []Update{
		{ID: "aaa111aaa111", Title: "Routine notice", URL: "https://example.org/a"},
		{ID: "bbb222bbb222", Title: "Final rule on thresholds", URL: "https://example.org/b", IsBreakingChange: true},
	}
	scraper := &staticScraper{updates: updates}
	seen := NewSeenRepository(newTestDB(t))
	audit := NewAuditTrail(t.TempDir(), zerolog.Nop())
	runner := NewRunner(scraper, seen, audit, zerolog.Nop())

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Updates, 2)
	require.Len(t, result.Breaking, 1)
	assert.Equal(t, "bbb222bbb222", result.Breaking[0].ID)
	assert.Equal(t, 0, result.SkippedDup)
	assert.NotEmpty(t, result.AuditPath)

	// Second tick sees only duplicates: nothing to process, nothing audited.
	result, err = runner.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Updates)
	assert.Equal(t, 2, result.SkippedDup)
	assert.Empty(t, result.AuditPath)
}

func TestRunnerPropagatesFetchFailure(t *testing.T) {
	runner := NewRunner(&staticScraper{err: context.DeadlineExceeded}, nil, nil, zerolog.Nop())
	_, err := runner.Run(context.Background())
	assert.Error(t, err)
}
