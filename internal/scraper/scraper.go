package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// elements whose text is treated as page content
var textElements = map[string]bool{
	"title": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "li": true, "blockquote": true, "td": true, "figcaption": true,
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "svg": true,
}

type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	MaxChars  int
	UserAgent string
}

// Resolver turns a message containing a single link into supplementary
// page text for the classifier.
type Resolver struct {
	client *http.Client
	opts   Options
	logger *zap.Logger
}

func NewResolver(opts Options, logger *zap.Logger) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 512 * 1024
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 4000
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; memo-organizer/1.0)"
	}
	return &Resolver{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger,
	}
}

// ExtractURLs returns every link occurrence in text, in order of appearance.
// A link pasted twice is returned twice.
func ExtractURLs(text string) []string {
	found := urlPattern.FindAllString(text, -1)
	return lo.Map(found, func(u string, _ int) string {
		return strings.TrimRight(u, ".,;:!?)]}>\"'")
	})
}

// Supplement returns page text when text contains exactly one link
// occurrence.
// Scrape failures are logged and yield an empty supplement.
func (r *Resolver) Supplement(ctx context.Context, text string) string {
	urls := ExtractURLs(text)
	if len(urls) != 1 {
		return ""
	}

	content, err := r.Scrape(ctx, urls[0])
	if err != nil {
		r.logger.Warn("Failed to scrape link", zap.Error(err), zap.String("url", urls[0]))
		return ""
	}
	return content
}

// Scrape fetches pageURL and flattens its visible text blocks into one comma separated string.
func (r *Resolver) Scrape(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, r.opts.MaxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	blocks := lo.Compact(lo.Map(collectBlocks(doc), func(b string, _ int) string {
		return strings.Join(strings.Fields(b), " ")
	}))
	text := strings.Join(blocks, ",")
	if len([]rune(text)) > r.opts.MaxChars {
		text = string([]rune(text)[:r.opts.MaxChars])
	}
	return text, nil
}

func collectBlocks(doc *html.Node) []string {
	var blocks []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElements[n.Data] {
				return
			}
			if textElements[n.Data] {
				blocks = append(blocks, textOf(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return blocks
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		case html.ElementNode:
			if skippedElements[n.Data] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
