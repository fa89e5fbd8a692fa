// Package discover finds career/jobs entrypoints on district homepages.
// It is a fallback for roster rows that carry no pre-resolved career URL.
package discover

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// Keywords that mark a link as a likely career/jobs entrypoint, checked
// against both anchor text and href.
var careerKeywords = []string{
	"job", "jobs", "career", "careers", "employment", "vacancies",
	"openings", "join our team", "work with us", "human resources",
}

// Config controls the homepage scan.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxURLs   int
}

// Finder scans a homepage for career links using a Colly collector.
type Finder struct {
	cfg Config
}

// New builds a Finder.
func New(cfg Config) *Finder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = 3
	}
	return &Finder{cfg: cfg}
}

// CareerURLs fetches the homepage and returns absolute career-page URLs,
// deduplicated, in document order, capped at MaxURLs.
func (f *Finder) CareerURLs(ctx context.Context, homepage string) ([]string, error) {
	if _, err := url.ParseRequestURI(homepage); err != nil {
		return nil, fmt.Errorf("invalid homepage %q: %w", homepage, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options := []colly.CollectorOption{colly.Async(false), colly.StdlibContext(ctx)}
	if f.cfg.UserAgent != "" {
		options = append(options, colly.UserAgent(f.cfg.UserAgent))
	}
	collector := colly.NewCollector(options...)
	collector.SetRequestTimeout(f.cfg.Timeout)

	seen := make(map[string]bool)
	var found []string

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if len(found) >= f.cfg.MaxURLs {
			return
		}
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if href == "" || seen[href] {
			return
		}
		if !looksLikeCareerLink(e.Text, href) {
			return
		}
		seen[href] = true
		found = append(found, href)
	})

	var visitErr error
	collector.OnError(func(_ *colly.Response, err error) {
		visitErr = err
	})

	if err := collector.Visit(homepage); err != nil {
		return nil, fmt.Errorf("visit %s: %w", homepage, err)
	}
	collector.Wait()
	if visitErr != nil && len(found) == 0 {
		return nil, fmt.Errorf("scan %s: %w", homepage, visitErr)
	}
	return found, nil
}

func looksLikeCareerLink(text, href string) bool {
	text = strings.ToLower(text)
	href = strings.ToLower(href)
	for _, keyword := range careerKeywords {
		if strings.Contains(text, keyword) || strings.Contains(href, strings.ReplaceAll(keyword, " ", "-")) {
			return true
		}
	}
	return false
}
