// Package extract converts a submitted URL or pasted text into a
// normalized article document ready for synthesis.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf16"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/dgnsrekt/articast/internal/config"
)

// MaxTitleUnits bounds article titles to 300 UTF-16 code units.
const MaxTitleUnits = 300

// ErrEmptyBody is returned when extraction produces no readable text.
var ErrEmptyBody = errors.New("extract: no readable text in source")

// Source identifies what to extract: a URL to fetch, or pasted text.
// Exactly one of URL or (Title, Body) should be set.
type Source struct {
	URL   string
	Title string
	Body  string
}

// Document is a normalized article ready for synthesis.
type Document struct {
	Title  string
	Byline string
	// SourceURL is empty for pasted text.
	SourceURL string
	Text      string
}

// Extractor turns a Source into a Document.
type Extractor interface {
	Extract(ctx context.Context, src Source) (Document, error)
}

// ReadabilityExtractor fetches URLs and extracts their main article
// content with go-readability, falling back to meta tags for title and
// byline. Pasted text is normalized without any network access.
type ReadabilityExtractor struct {
	client    *http.Client
	userAgent string
}

// NewReadabilityExtractor creates an extractor from configuration.
func NewReadabilityExtractor(cfg config.ExtractConfig) *ReadabilityExtractor {
	return &ReadabilityExtractor{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
	}
}

// Extract implements Extractor.
func (e *ReadabilityExtractor) Extract(ctx context.Context, src Source) (Document, error) {
	if src.URL != "" {
		return e.extractURL(ctx, src.URL)
	}
	return extractText(src.Title, src.Body)
}

func (e *ReadabilityExtractor) extractURL(ctx context.Context, rawURL string) (Document, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return Document{}, fmt.Errorf("invalid article URL %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return Document{}, fmt.Errorf("building fetch request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetching article: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("fetching article: HTTP status %d", resp.StatusCode)
	}

	html, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Document{}, fmt.Errorf("reading article body: %w", err)
	}

	return ParseHTML(string(html), pageURL)
}

// ParseHTML extracts the main article content from raw HTML. Exposed
// separately so extraction can be tested without a network.
func ParseHTML(html string, pageURL *url.URL) (Document, error) {
	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(html), pageURL)
	if err != nil {
		return Document{}, fmt.Errorf("readability parse: %w", err)
	}

	doc := Document{
		Title:     article.Title,
		Byline:    article.Byline,
		SourceURL: pageURL.String(),
		Text:      normalizeText(article.TextContent),
	}

	// Readability sometimes misses title or byline; fall back to the
	// page's meta tags.
	if doc.Title == "" || doc.Byline == "" {
		metaTitle, metaByline := metaFallback(html)
		if doc.Title == "" {
			doc.Title = metaTitle
		}
		if doc.Byline == "" {
			doc.Byline = metaByline
		}
	}

	if doc.Text == "" {
		return Document{}, ErrEmptyBody
	}
	if doc.Title == "" {
		doc.Title = pageURL.Host
	}
	doc.Title = TruncateTitle(doc.Title)

	return doc, nil
}

// metaFallback pulls title and author from common meta tags.
func metaFallback(html string) (title, byline string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}

	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		title = strings.TrimSpace(t)
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	if b, ok := doc.Find(`meta[name="author"]`).Attr("content"); ok {
		byline = strings.TrimSpace(b)
	}
	if byline == "" {
		if b, ok := doc.Find(`meta[property="article:author"]`).Attr("content"); ok {
			byline = strings.TrimSpace(b)
		}
	}

	return title, byline
}

// extractText normalizes pasted text without touching the network.
func extractText(title, body string) (Document, error) {
	text := normalizeText(body)
	if text == "" {
		return Document{}, ErrEmptyBody
	}

	title = strings.TrimSpace(title)
	if title == "" {
		// Use the first line of the body as a stand-in title.
		title = text
		if i := strings.IndexByte(title, '\n'); i >= 0 {
			title = title[:i]
		}
	}

	return Document{
		Title: TruncateTitle(title),
		Text:  text,
	}, nil
}

// normalizeText collapses line endings and trims surrounding whitespace.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

// TruncateTitle bounds a title to MaxTitleUnits UTF-16 code units,
// cutting at a rune boundary.
func TruncateTitle(title string) string {
	units := 0
	for i, r := range title {
		units += len(utf16.Encode([]rune{r}))
		if units > MaxTitleUnits {
			return title[:i]
		}
	}
	return title
}
