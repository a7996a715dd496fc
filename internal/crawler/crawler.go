package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lcmeval/internal/catalog"
	"lcmeval/internal/config"
)

const maxPageBytes = 16 << 20

// FetchError reports a page that could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the request may succeed.
func (e *FetchError) Temporary() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Report summarizes a crawl.
type Report struct {
	Pages       int
	APIs        int
	FailedPages []string
}

func (r *Report) merge(other Report) {
	r.Pages += other.Pages
	r.APIs += other.APIs
	r.FailedPages = append(r.FailedPages, other.FailedPages...)
}

// Crawler harvests API documentation pages into raw JSON page files.
type Crawler struct {
	config     config.CrawlerConfig
	logger     *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter

	retryInterval time.Duration
}

// New creates a Crawler. Requests are paced at one per RequestInterval.
func New(cfg config.CrawlerConfig, logger *zap.Logger) *Crawler {
	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(time.Duration(cfg.RequestInterval) * time.Millisecond)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Crawler{
		config: cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		limiter:       rate.NewLimiter(limit, 1),
		retryInterval: 500 * time.Millisecond,
	}
}

func (c *Crawler) newBackOff(ctx context.Context) backoff.BackOff {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = c.retryInterval
	strategy.MaxInterval = 20 * c.retryInterval
	strategy.MaxElapsedTime = time.Minute
	return backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(c.config.MaxRetries)), ctx)
}

// Fetch downloads a page, retrying transient failures.
func (c *Crawler) Fetch(ctx context.Context, url string) (string, error) {
	var body string
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(&FetchError{URL: url, Err: err})
		}

		page, err := c.get(ctx, url)
		if err != nil {
			var fetchErr *FetchError
			if errors.As(err, &fetchErr) && fetchErr.Temporary() {
				c.logger.Warn("Retryable fetch error, will retry", zap.String("url", url), zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		body = page
		return nil
	}

	if err := backoff.Retry(operation, c.newBackOff(ctx)); err != nil {
		return "", err
	}
	return body, nil
}

func (c *Crawler) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")
	if c.config.Referer != "" {
		req.Header.Set("Referer", c.config.Referer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	return string(data), nil
}

// fetchOptional fetches a sub-page, logging and recording failures instead
// of returning them.
func (c *Crawler) fetchOptional(ctx context.Context, url string, report *Report) (string, bool) {
	page, err := c.Fetch(ctx, url)
	if err != nil {
		c.logger.Warn("Skipping page", zap.String("url", url), zap.Error(err))
		report.FailedPages = append(report.FailedPages, url)
		return "", false
	}
	return page, true
}

func (c *Crawler) url(parts ...string) string {
	segments := []string{c.config.BaseURL}
	for _, part := range parts {
		if part = strings.Trim(part, "/"); part != "" {
			segments = append(segments, part)
		}
	}
	return strings.Join(segments, "/")
}

// pageFileName turns a relative link into a flat JSON file name.
func pageFileName(link string) string {
	if i := strings.IndexByte(link, '#'); i >= 0 {
		link = link[:i]
	}
	link = strings.ReplaceAll(link, "generated/", "")
	link = strings.ReplaceAll(link, "/", "_")
	if link == "" {
		link = "index"
	}
	return link + ".json"
}

func (c *Crawler) save(page string, apis []catalog.RawAPI, report *Report) error {
	path := filepath.Join(c.config.OutputDir, pageFileName(page))
	if err := catalog.WriteRaw(path, apis); err != nil {
		return fmt.Errorf("failed to save %s: %w", page, err)
	}
	report.Pages++
	report.APIs += len(apis)
	c.logger.Info("Saved API page", zap.String("page", page), zap.Int("apis", len(apis)))
	return nil
}

// crawlAPIPages fetches each generated API page under prefix.
func (c *Crawler) crawlAPIPages(ctx context.Context, prefix string, links []string, report *Report) []catalog.RawAPI {
	var apis []catalog.RawAPI
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		page, ok := c.fetchOptional(ctx, c.url(prefix, link), report)
		if !ok {
			continue
		}
		api, err := ParseAPIPage(page)
		if err != nil || len(api) == 0 {
			c.logger.Warn("No API found on page", zap.String("link", link), zap.Error(err))
			continue
		}
		apis = append(apis, api)
	}
	return apis
}

// CrawlRoutines crawls the routines index, skipping its first skip sections.
// Sections without an API table are treated as constants pages.
func (c *Crawler) CrawlRoutines(ctx context.Context, skip int) (Report, error) {
	var report Report

	index, err := c.Fetch(ctx, c.url("routines.html"))
	if err != nil {
		return report, fmt.Errorf("failed to fetch routines index: %w", err)
	}
	sections, err := ParseTocLinks(index)
	if err != nil {
		return report, err
	}
	skip = max(0, min(skip, len(sections)))

	for _, section := range sections[skip:] {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, ok := c.fetchOptional(ctx, c.url(section), &report)
		if !ok {
			continue
		}

		links, err := ParseAPILinks(page)
		if err != nil {
			c.logger.Warn("Failed to parse section", zap.String("section", section), zap.Error(err))
			continue
		}

		var apis []catalog.RawAPI
		if len(links) > 0 {
			apis = c.crawlAPIPages(ctx, "", links, &report)
		} else {
			constants, _ := ParseConstants(page)
			for _, name := range constants {
				apis = append(apis, catalog.RawAPI{name: {}})
			}
		}

		if err := c.save(section, apis, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// CrawlPolynomial crawls the polynomial package classes and their methods.
func (c *Crawler) CrawlPolynomial(ctx context.Context) (Report, error) {
	var report Report

	index, err := c.Fetch(ctx, c.url("routines.polynomials-package.html"))
	if err != nil {
		return report, fmt.Errorf("failed to fetch polynomial index: %w", err)
	}
	classes, err := ParseAPILinks(index)
	if err != nil {
		return report, err
	}

	for _, class := range classes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, ok := c.fetchOptional(ctx, c.url(class), &report)
		if !ok {
			continue
		}

		var apis []catalog.RawAPI
		if api, err := ParseAPIPage(page); err == nil && len(api) > 0 {
			apis = append(apis, api)
		}
		methods, _ := ParseAPILinks(page)
		apis = append(apis, c.crawlAPIPages(ctx, "generated", methods, &report)...)

		if err := c.save(class, apis, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// crawlSignaturePage collects the signatures on page plus the API pages its
// tables link to, relative to prefix.
func (c *Crawler) crawlSignaturePage(ctx context.Context, page, prefix string, report *Report) ([]catalog.RawAPI, error) {
	apis, err := ParseSignatures(page)
	if err != nil {
		return nil, err
	}
	methods, err := ParseAPILinks(page)
	if err != nil {
		return nil, err
	}
	return append(apis, c.crawlAPIPages(ctx, prefix, methods, report)...), nil
}

// CrawlRandomLegacy crawls the legacy random sampling page.
func (c *Crawler) CrawlRandomLegacy(ctx context.Context) (Report, error) {
	var report Report

	page, err := c.Fetch(ctx, c.url("random", "legacy.html"))
	if err != nil {
		return report, fmt.Errorf("failed to fetch legacy random page: %w", err)
	}
	apis, err := c.crawlSignaturePage(ctx, page, "random", &report)
	if err != nil {
		return report, err
	}
	return report, c.save("random.legacy.html", apis, &report)
}

// CrawlBitGenerators crawls each bit generator page.
func (c *Crawler) CrawlBitGenerators(ctx context.Context) (Report, error) {
	var report Report

	index, err := c.Fetch(ctx, c.url("random", "bit_generators", "index.html"))
	if err != nil {
		return report, fmt.Errorf("failed to fetch bit generators index: %w", err)
	}
	generators, err := ParseTocLinks(index)
	if err != nil {
		return report, err
	}

	for _, generator := range generators {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, ok := c.fetchOptional(ctx, c.url("random", "bit_generators", generator), &report)
		if !ok {
			continue
		}
		apis, err := c.crawlSignaturePage(ctx, page, "random/bit_generators", &report)
		if err != nil {
			c.logger.Warn("Failed to parse bit generator page", zap.String("page", generator), zap.Error(err))
			continue
		}
		if err := c.save("random.bit_generators."+generator, apis, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// CrawlTyping crawls the typing module page.
func (c *Crawler) CrawlTyping(ctx context.Context) (Report, error) {
	var report Report

	page, err := c.Fetch(ctx, c.url("typing.html"))
	if err != nil {
		return report, fmt.Errorf("failed to fetch typing page: %w", err)
	}
	apis, err := ParseSignatures(page)
	if err != nil {
		return report, err
	}
	return report, c.save("typing.html", apis, &report)
}

// CrawlAll runs every section. A failing section is logged and the crawl
// continues; the first section error is returned with the combined report.
func (c *Crawler) CrawlAll(ctx context.Context) (Report, error) {
	sections := []struct {
		name  string
		crawl func(context.Context) (Report, error)
	}{
		{"routines", func(ctx context.Context) (Report, error) { return c.CrawlRoutines(ctx, c.config.SkipSections) }},
		{"polynomial", c.CrawlPolynomial},
		{"random_legacy", c.CrawlRandomLegacy},
		{"bit_generators", c.CrawlBitGenerators},
		{"typing", c.CrawlTyping},
	}

	var total Report
	var firstErr error
	for _, section := range sections {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		report, err := section.crawl(ctx)
		total.merge(report)
		if err != nil {
			c.logger.Error("Section crawl failed", zap.String("section", section.name), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("section %s: %w", section.name, err)
			}
			continue
		}
		c.logger.Info("Section crawled",
			zap.String("section", section.name),
			zap.Int("pages", report.Pages),
			zap.Int("apis", report.APIs))
	}
	return total, firstErr
}
