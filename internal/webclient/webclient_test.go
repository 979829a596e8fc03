package webclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/backoff"
	"github.com/verdantlabs/prospector/internal/ratecontrol"
)

func TestMain(m *testing.M) {
	// Generous outbound limits so retry tests are not throttled.
	dir, err := os.MkdirTemp("", "rates")
	if err == nil {
		path := filepath.Join(dir, "rates.yaml")
		_ = os.WriteFile(path, []byte(
			"providers:\n"+
				"  search:\n    requests_per_second: 1000\n    burst: 1000\n    max_concurrent: 16\n"+
				"  scrape:\n    requests_per_second: 1000\n    burst: 1000\n    max_concurrent: 16\n",
		), 0o644)
		os.Setenv("PROSPECTOR_RATES_PATH", path)
		ratecontrol.Reset()
	}
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func fastPolicy() backoff.Policy {
	return backoff.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestSearchReturnsHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "ghgi kenya energy", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		json.NewEncoder(w).Encode(searchResponse{Results: []Hit{
			{URL: "https://example.org/a", Title: "A", Snippet: "snippet a"},
			{URL: "https://example.org/b", Title: "B", Snippet: "snippet b"},
		}})
	}))
	defer srv.Close()

	c := NewSearchClient(srv.URL, fastPolicy(), zap.NewNop())
	hits, err := c.Search(context.Background(), "ghgi kenya energy", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "https://example.org/a", hits[0].URL)
}

func TestSearchTruncatesToMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var hits []Hit
		for i := 0; i < 20; i++ {
			hits = append(hits, Hit{URL: "https://example.org"})
		}
		json.NewEncoder(w).Encode(searchResponse{Results: hits})
	}))
	defer srv.Close()

	c := NewSearchClient(srv.URL, fastPolicy(), zap.NewNop())
	hits, err := c.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestSearchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(searchResponse{Results: []Hit{{URL: "https://x"}}})
	}))
	defer srv.Close()

	c := NewSearchClient(srv.URL, fastPolicy(), zap.NewNop())
	hits, err := c.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestScrapeReturnsPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scrape", r.URL.Path)
		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(Page{URL: req.URL, Title: "T", Markdown: "# T", Success: true})
	}))
	defer srv.Close()

	c := NewScrapeClient(srv.URL, fastPolicy(), zap.NewNop())
	page, err := c.Scrape(context.Background(), "https://example.org/doc")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/doc", page.URL)
	assert.Equal(t, "# T", page.Markdown)
}

func TestScrapeReportedFailureIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(Page{Success: false})
	}))
	defer srv.Close()

	c := NewScrapeClient(srv.URL, fastPolicy(), zap.NewNop())
	_, err := c.Scrape(context.Background(), "https://example.org/doc")
	assert.Error(t, err)
}

func TestCrawlFiltersFailedPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/crawl", r.URL.Path)
		var req crawlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 25, req.MaxPages)
		json.NewEncoder(w).Encode(crawlResponse{Pages: []Page{
			{URL: "https://example.org/1", Success: true},
			{URL: "https://example.org/2", Success: false},
			{URL: "https://example.org/3", Success: true},
		}})
	}))
	defer srv.Close()

	c := NewScrapeClient(srv.URL, fastPolicy(), zap.NewNop())
	pages, err := c.Crawl(context.Background(), "https://example.org", 25, []string{"/tags/"})
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}
