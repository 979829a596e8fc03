package webclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/backoff"
	"github.com/verdantlabs/prospector/internal/circuitbreaker"
	"github.com/verdantlabs/prospector/internal/metrics"
	"github.com/verdantlabs/prospector/internal/ratecontrol"
)

// Page is one fetched page as returned by the scrape service.
type Page struct {
	URL      string            `json:"url"`
	Title    string            `json:"title"`
	Markdown string            `json:"content_markdown"`
	HTML     string            `json:"content_html,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Success  bool              `json:"success"`
}

// ScrapeClient fetches single pages and bounded site crawls.
type ScrapeClient struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	policy  backoff.Policy
	logger  *zap.Logger
}

// NewScrapeClient creates a scrape client. An empty baseURL falls back to
// SCRAPE_SERVICE_URL, then to the in-cluster default.
func NewScrapeClient(baseURL string, policy backoff.Policy, logger *zap.Logger) *ScrapeClient {
	if baseURL == "" {
		baseURL = os.Getenv("SCRAPE_SERVICE_URL")
	}
	if baseURL == "" {
		baseURL = "http://scrape-service:3002"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScrapeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: 90 * time.Second}, "scrape", logger),
		policy:  policy,
		logger:  logger,
	}
}

type scrapeRequest struct {
	URL string `json:"url"`
}

type crawlRequest struct {
	URL             string   `json:"url"`
	MaxPages        int      `json:"max_pages"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
}

type crawlResponse struct {
	Pages []Page `json:"pages"`
}

// Scrape fetches one page.
func (c *ScrapeClient) Scrape(ctx context.Context, pageURL string) (Page, error) {
	var page Page
	err := c.post(ctx, "/v1/scrape", scrapeRequest{URL: pageURL}, &page)
	if err != nil {
		metrics.ScrapeRequests.WithLabelValues("scrape", "error").Inc()
		return Page{}, err
	}
	if !page.Success {
		metrics.ScrapeRequests.WithLabelValues("scrape", "failed").Inc()
		return Page{}, fmt.Errorf("scrape of %s reported failure", pageURL)
	}
	metrics.ScrapeRequests.WithLabelValues("scrape", "ok").Inc()
	return page, nil
}

// Crawl fetches up to maxPages pages under a base URL. The caller is
// responsible for capping maxPages; the service treats it as a hard limit.
func (c *ScrapeClient) Crawl(ctx context.Context, baseURL string, maxPages int, excludePatterns []string) ([]Page, error) {
	var out crawlResponse
	err := c.post(ctx, "/v1/crawl", crawlRequest{URL: baseURL, MaxPages: maxPages, ExcludePatterns: excludePatterns}, &out)
	if err != nil {
		metrics.ScrapeRequests.WithLabelValues("crawl", "error").Inc()
		return nil, err
	}
	metrics.ScrapeRequests.WithLabelValues("crawl", "ok").Inc()
	pages := make([]Page, 0, len(out.Pages))
	for _, p := range out.Pages {
		if p.Success {
			pages = append(pages, p)
		}
	}
	return pages, nil
}

func (c *ScrapeClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", path, err)
	}
	return c.policy.Do(ctx, "scrape"+path, c.logger, func(ctx context.Context) error {
		release, err := ratecontrol.Acquire(ctx, "scrape")
		if err != nil {
			return backoff.Permanent(err)
		}
		defer release()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating %s request: %w", path, err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("calling scrape service: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("scrape service returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("scrape service returned status %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding scrape response: %w", err)
		}
		return nil
	})
}
