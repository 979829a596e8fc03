package activities

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/config"
	"github.com/verdantlabs/prospector/internal/metrics"
	"github.com/verdantlabs/prospector/internal/state"
	"github.com/verdantlabs/prospector/internal/webclient"
)

// Research executes pending search tasks, filters hits through a cheap
// relevance check, and scrapes the survivors with bounded concurrency. Every
// external failure degrades per unit: a failed search or scrape is logged and
// skipped, never fatal to the phase.
func (a *Activities) Research(ctx context.Context, in ResearchInput) (ResearchResult, error) {
	start := time.Now()
	defer func() { metrics.RecordPhase(PhaseResearch, time.Since(start).Seconds()) }()

	rec := in.Record
	cfg := a.cfg.Get()
	a.publishStatus(ctx, &rec, PhaseResearch)

	pending := rec.PendingSearches()
	if len(pending) > cfg.Research.MaxQueriesPerCycle {
		pending = pending[:cfg.Research.MaxQueriesPerCycle]
	}

	var candidates []webclient.Hit
	for _, task := range pending {
		hits, err := a.search.Search(ctx, task.Query, cfg.Research.MaxResultsPerQuery)
		rec.MarkSearched(task.Query)
		rec.SearchesConducted++
		if err != nil {
			metrics.PhaseFailures.WithLabelValues(PhaseResearch, "search").Inc()
			rec.LogDecision("researcher", "search_failed",
				fmt.Sprintf("query %q: %v", task.Query, err), time.Now().UTC())
			continue
		}
		candidates = append(candidates, hits...)
	}

	toScrape := a.filterCandidates(ctx, cfg, &rec, candidates)
	added := a.scrapeAll(ctx, cfg, &rec, toScrape)

	if a.status != nil && added > 0 {
		var urls []string
		for _, h := range toScrape {
			if rec.HasScrapedURL(h.URL) {
				urls = append(urls, h.URL)
			}
		}
		a.status.MarkSeen(ctx, string(rec.Mode), rec.Target.Label(), urls...)
	}

	rec.LogDecision("researcher", "research_completed",
		fmt.Sprintf("%d queries executed, %d hits, %d documents scraped", len(pending), len(candidates), added),
		time.Now().UTC())
	a.logger.Info("Research cycle completed",
		zap.String("run_id", rec.RunID),
		zap.Int("queries", len(pending)),
		zap.Int("scraped", added),
		zap.Int("total_docs", len(rec.ScrapedData)),
	)
	return ResearchResult{Record: rec}, nil
}

// filterCandidates drops duplicate, already-seen, and irrelevant hits. The
// per-hit relevance checks fan out with bounded concurrency; dedupe and the
// seen-cache lookups stay sequential because they touch the record.
func (a *Activities) filterCandidates(ctx context.Context, cfg *config.Config, rec *state.Record, hits []webclient.Hit) []webclient.Hit {
	seenThisPhase := make(map[string]bool)
	var candidates []webclient.Hit
	for _, h := range hits {
		if h.URL == "" || seenThisPhase[h.URL] || rec.HasScrapedURL(h.URL) {
			continue
		}
		seenThisPhase[h.URL] = true
		if a.status != nil && a.status.Seen(ctx, string(rec.Mode), rec.Target.Label(), h.URL) {
			a.logger.Debug("Skipping URL processed by a previous run", zap.String("url", h.URL))
			continue
		}
		candidates = append(candidates, h)
	}
	if len(candidates) == 0 {
		return nil
	}

	relevant := make([]bool, len(candidates))
	sem := make(chan struct{}, cfg.Research.ConcurrentScrapeLimit)
	var wg sync.WaitGroup
	for i, h := range candidates {
		wg.Add(1)
		go func(i int, h webclient.Hit) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			relevant[i] = a.relevantHit(ctx, cfg, rec, h)
		}(i, h)
	}
	wg.Wait()

	var out []webclient.Hit
	for i, h := range candidates {
		if relevant[i] {
			out = append(out, h)
		}
	}
	return out
}

// relevantHit asks the relevance model for a cheap yes/no on a search hit.
// Any model failure reads as not-relevant so a flaky model cannot flood the
// scraper.
func (a *Activities) relevantHit(ctx context.Context, cfg *config.Config, rec *state.Record, hit webclient.Hit) bool {
	system := "You triage search results. Answer with a single word: yes or no."
	user := fmt.Sprintf(
		"Research goal: %s\nGeography: %s\nSector: %s\n\nResult:\nTitle: %s\nURL: %s\nSnippet: %s\n\nIs this result likely to contain material for the research goal?",
		rec.Prompt, rec.Target.Label(), rec.Sector, hit.Title, hit.URL, hit.Snippet)

	resp, err := a.models.Complete(ctx, cfg.Models.Relevance, system, user, nil)
	if err != nil {
		metrics.RelevanceChecks.WithLabelValues("error").Inc()
		a.logger.Warn("Relevance check failed, skipping hit",
			zap.String("url", hit.URL), zap.Error(err))
		return false
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp)), "yes") {
		metrics.RelevanceChecks.WithLabelValues("relevant").Inc()
		return true
	}
	metrics.RelevanceChecks.WithLabelValues("not_relevant").Inc()
	return false
}

// scrapeAll fetches hits with bounded concurrency and appends successes to
// the record. Returns the number of documents added.
func (a *Activities) scrapeAll(ctx context.Context, cfg *config.Config, rec *state.Record, hits []webclient.Hit) int {
	if len(hits) == 0 {
		return 0
	}

	type scraped struct {
		hit  webclient.Hit
		page webclient.Page
		err  error
	}
	results := make([]scraped, len(hits))
	sem := make(chan struct{}, cfg.Research.ConcurrentScrapeLimit)
	var wg sync.WaitGroup
	for i, h := range hits {
		wg.Add(1)
		go func(i int, h webclient.Hit) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			page, err := a.scrape.Scrape(ctx, h.URL)
			results[i] = scraped{hit: h, page: page, err: err}
		}(i, h)
	}
	wg.Wait()

	added := 0
	now := time.Now().UTC()
	for _, r := range results {
		if r.err != nil {
			metrics.PhaseFailures.WithLabelValues(PhaseResearch, "scrape").Inc()
			rec.LogDecision("researcher", "scrape_failed",
				fmt.Sprintf("url %s: %v", r.hit.URL, r.err), now)
			continue
		}
		title := r.page.Title
		if title == "" {
			title = r.hit.Title
		}
		if rec.AppendScraped(state.ScrapedDoc{
			URL:       r.hit.URL,
			Title:     title,
			Snippet:   r.hit.Snippet,
			Content:   r.page.Markdown,
			ScrapedAt: now,
		}) {
			added++
		}
	}
	return added
}
