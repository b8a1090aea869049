package scrapers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

const masUserAgent = "Mozilla/5.0 (compatible; RWA-Platform-Compliance-Monitor/1.0)"

// masPages are the MAS sections checked each tick, in order.
var masPages = []struct {
	category string
	url      string
}{
	{"news", "https://www.mas.gov.sg/news"},
	{"regulations", "https://www.mas.gov.sg/regulation"},
	{"circulars", "https://www.mas.gov.sg/regulation/circulars"},
}

// masRelevanceLexicon marks MAS entries worth feeding to the oracle.
var masRelevanceLexicon = []string{
	"securities and futures act",
	"sfa",
	"accredited investor",
	"capital markets",
	"cms license",
	"digital payment token",
	"dpt",
	"collective investment scheme",
	"exempt fund manager",
	"private placement",
	"section 275",
	"section 4a",
}

// masDateLayouts are tried in order when parsing listing dates.
var masDateLayouts = []string{
	"2 Jan 2006",
	"2 January 2006",
	"2006-01-02",
	"02/01/2006",
	"January 2, 2006",
}

// MASScraper monitors the Monetary Authority of Singapore for Securities and
// Futures Act amendments, accredited investor definitions, and digital
// payment token regulations. MAS publishes HTML listings, not feeds, so
// parsing is deliberately lenient: selectors are best-effort and an
// unrecognized page yields zero entries, never an error.
type MASScraper struct {
	client   *http.Client
	log      zerolog.Logger
	lookback time.Duration
}

// NewMASScraper creates the MAS scraper with a 48 hour lookback; MAS
// publishes less frequently than the SEC.
func NewMASScraper(log zerolog.Logger) *MASScraper {
	return &MASScraper{
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log.With().Str("component", "mas_scraper").Logger(),
		lookback: 48 * time.Hour,
	}
}

func (s *MASScraper) Name() string                   { return "MAS" }
func (s *MASScraper) Jurisdiction() string           { return "SG" }
func (s *MASScraper) BaseURL() string                { return "https://www.mas.gov.sg" }
func (s *MASScraper) FeedKind() FeedKind             { return FeedKindScrape }
func (s *MASScraper) UpdateFrequency() time.Duration { return 48 * time.Hour }

// pageEntry is one listing item before relevance classification.
type pageEntry struct {
	title   string
	summary string
	url     string
	date    string
}

// Fetch checks all MAS pages and returns relevant updates inside the
// lookback window. A page that fails to fetch is skipped.
func (s *MASScraper) Fetch(ctx context.Context) ([]Update, error) {
	now := time.Now()
	var updates []Update

	for _, page := range masPages {
		s.log.Info().Str("category", page.category).Msg("Checking MAS page")

		content, err := s.fetchPage(ctx, page.url)
		if err != nil {
			s.log.Error().Str("url", page.url).Err(err).Msg("Failed to fetch MAS page")
			continue
		}

		entries := s.parseListing(content)
		if len(entries) > entryCap {
			entries = entries[:entryCap]
		}

		for _, entry := range entries {
			matched := matchKeywords(entry.title, entry.summary, masRelevanceLexicon)
			if len(matched) == 0 {
				continue
			}

			published := parseMASDate(entry.date, now)
			if !withinLookback(published, now, s.lookback) {
				continue
			}

			update := Update{
				ID:               UpdateID(entry.url),
				Title:            entry.title,
				Summary:          entry.summary,
				URL:              entry.url,
				PublishedDate:    published,
				Source:           s.Name(),
				Category:         page.category,
				KeywordsMatched:  matched,
				IsBreakingChange: isBreaking(entry.title, entry.summary),
			}
			updates = append(updates, update)
			s.log.Info().Str("title", update.Title).Bool("breaking", update.IsBreakingChange).Msg("Found relevant MAS update")
		}
	}

	return updates, nil
}

func (s *MASScraper) fetchPage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build page request: %w", err)
	}
	req.Header.Set("User-Agent", masUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("page request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// parseListing extracts listing items. It looks for div.news-item nodes,
// then article nodes, then li.item nodes.
func (s *MASScraper) parseListing(content []byte) []pageEntry {
	doc, err := html.Parse(strings.NewReader(string(content)))
	if err != nil {
		// html.Parse almost never fails on real-world markup, but a
		// truncated body can still trip it.
		s.log.Error().Err(err).Msg("Failed to parse MAS page")
		return nil
	}

	items := findAll(doc, func(n *html.Node) bool {
		return n.Data == "div" && hasClass(n, "news-item")
	})
	if len(items) == 0 {
		items = findAll(doc, func(n *html.Node) bool {
			return n.Data == "article"
		})
	}
	if len(items) == 0 {
		items = findAll(doc, func(n *html.Node) bool {
			return n.Data == "li" && hasClass(n, "item")
		})
	}

	var entries []pageEntry
	for _, item := range items {
		title := firstText(item, func(n *html.Node) bool {
			return inSet(n.Data, "h2", "h3", "a", "span") && hasAnyClass(n, "title", "heading")
		})
		summary := firstText(item, func(n *html.Node) bool {
			return inSet(n.Data, "p", "div") && hasAnyClass(n, "summary", "description", "excerpt")
		})
		date := firstText(item, func(n *html.Node) bool {
			return inSet(n.Data, "time", "span", "div") && hasAnyClass(n, "date", "datetime", "published")
		})

		var url string
		if link := findFirst(item, func(n *html.Node) bool {
			return n.Data == "a" && attrValue(n, "href") != ""
		}); link != nil {
			url = attrValue(link, "href")
			if !strings.HasPrefix(url, "http") {
				url = s.BaseURL() + url
			}
		}

		if title != "" {
			entries = append(entries, pageEntry{title: title, summary: summary, url: url, date: date})
		}
	}

	return entries
}

// parseMASDate tries the known listing formats, falling back to now.
func parseMASDate(s string, now time.Time) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range masDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return now
}

// HTML traversal helpers.

func findAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && pred(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if nodes := findAll(root, pred); len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

func firstText(root *html.Node, pred func(*html.Node) bool) string {
	if n := findFirst(root, pred); n != nil {
		return strings.TrimSpace(textContent(n))
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func hasAnyClass(n *html.Node, classes ...string) bool {
	for _, class := range classes {
		if hasClass(n, class) {
			return true
		}
	}
	return false
}

func inSet(s string, set ...string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
