// Package webclient holds the HTTP clients for the search and scrape
// services the research phase fans out against.
package webclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/backoff"
	"github.com/verdantlabs/prospector/internal/circuitbreaker"
	"github.com/verdantlabs/prospector/internal/metrics"
	"github.com/verdantlabs/prospector/internal/ratecontrol"
)

// Hit is one search result.
type Hit struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchClient queries the search service.
type SearchClient struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	policy  backoff.Policy
	logger  *zap.Logger
}

// NewSearchClient creates a search client. An empty baseURL falls back to
// SEARCH_SERVICE_URL, then to the in-cluster default.
func NewSearchClient(baseURL string, policy backoff.Policy, logger *zap.Logger) *SearchClient {
	if baseURL == "" {
		baseURL = os.Getenv("SEARCH_SERVICE_URL")
	}
	if baseURL == "" {
		baseURL = "http://search-service:8080"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: 30 * time.Second}, "search", logger),
		policy:  policy,
		logger:  logger,
	}
}

type searchResponse struct {
	Results []Hit `json:"results"`
}

// Search runs one query, returning at most maxResults hits.
func (c *SearchClient) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	var hits []Hit
	err := c.policy.Do(ctx, "search", c.logger, func(ctx context.Context) error {
		release, err := ratecontrol.Acquire(ctx, "search")
		if err != nil {
			return backoff.Permanent(err)
		}
		defer release()

		u := fmt.Sprintf("%s/search?q=%s&count=%s",
			c.baseURL, url.QueryEscape(query), strconv.Itoa(maxResults))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating search request: %w", err))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("calling search service: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("search service returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("search service returned status %d", resp.StatusCode))
		}

		var out searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decoding search response: %w", err)
		}
		hits = out.Results
		return nil
	})
	if err != nil {
		metrics.SearchRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SearchRequests.WithLabelValues("ok").Inc()
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}
