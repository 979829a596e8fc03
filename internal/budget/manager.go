// Package budget enforces the per-cycle action quota on deep-dive behavior.
// The manager normalizes model-proposed actions into a budget-respecting list;
// it is the only component that accounts against the deep-dive action ceiling.
package budget

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/metrics"
)

// ActionType tags a proposed deep-dive action.
type ActionType string

const (
	ActionScrape    ActionType = "scrape"
	ActionCrawl     ActionType = "crawl"
	ActionTerminate ActionType = "terminate_deep_dive"
)

// Action is one deep-dive action as proposed by the model and normalized by
// the manager. Target is required for scrape/crawl and forbidden for
// terminate.
type Action struct {
	Type            ActionType `json:"action_type"`
	Target          string     `json:"target,omitempty"`
	Justification   string     `json:"justification"`
	MaxPages        int        `json:"max_pages,omitempty"`
	ExcludePatterns []string   `json:"exclude_patterns,omitempty"`
}

// Actionable reports whether the action consumes budget.
func (a Action) Actionable() bool {
	return a.Type == ActionScrape || a.Type == ActionCrawl
}

// Options configures a Manager.
type Options struct {
	// CycleCeiling is the maximum number of actionable deep-dive actions
	// per cycle.
	CycleCeiling int
	// CrawlPageCap is the hard safety ceiling on a crawl's page count,
	// applied regardless of what the model requested.
	CrawlPageCap int
	// DefaultCrawlPages is used when a crawl proposes no page count.
	DefaultCrawlPages int
}

// Manager normalizes proposed deep-dive actions against the cycle budget.
type Manager struct {
	opts   Options
	logger *zap.Logger
}

// NewManager creates a budget manager. Zero option fields get safe defaults.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.CycleCeiling <= 0 {
		opts.CycleCeiling = 15
	}
	if opts.CrawlPageCap <= 0 {
		opts.CrawlPageCap = 50
	}
	if opts.DefaultCrawlPages <= 0 {
		opts.DefaultCrawlPages = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{opts: opts, logger: logger}
}

// Remaining returns the budget left in the current cycle.
func (m *Manager) Remaining(used int) int {
	r := m.opts.CycleCeiling - used
	if r < 0 {
		return 0
	}
	return r
}

// Result describes what Normalize did to the proposed list.
type Result struct {
	// Actions is the normalized, budget-respecting list. Never empty.
	Actions []Action
	// Kept is the number of actionable entries that survived; the caller
	// adds it to the cycle's action count.
	Kept int
	// Coerced counts actions rewritten to terminate for a missing target.
	Coerced int
	// Truncated counts actionable entries dropped for budget.
	Truncated int
	// Forced is true when an exhausted budget discarded all actionable
	// entries and forced the cycle to terminate.
	Forced bool
}

// Normalize validates, caps, and truncates a proposed action list. Invalid
// entries are never silently dropped: a missing target becomes a terminate
// action carrying a justification for the coercion, and an empty or
// unusable proposal synthesizes a single terminate.
func (m *Manager) Normalize(proposed []Action, usedThisCycle int) Result {
	var res Result

	if len(proposed) == 0 {
		res.Actions = []Action{{
			Type:          ActionTerminate,
			Justification: "model proposed no usable deep-dive actions",
		}}
		return res
	}

	normalized := make([]Action, 0, len(proposed))
	for _, a := range proposed {
		switch a.Type {
		case ActionScrape:
			if a.Target == "" {
				normalized = append(normalized, m.coerce(a, "scrape action missing required target"))
				res.Coerced++
				continue
			}
			normalized = append(normalized, a)
		case ActionCrawl:
			if a.Target == "" {
				normalized = append(normalized, m.coerce(a, "crawl action missing required target"))
				res.Coerced++
				continue
			}
			if a.MaxPages <= 0 {
				a.MaxPages = m.opts.DefaultCrawlPages
			}
			if a.MaxPages > m.opts.CrawlPageCap {
				m.logger.Info("Capping crawl page count",
					zap.String("target", a.Target),
					zap.Int("requested", a.MaxPages),
					zap.Int("cap", m.opts.CrawlPageCap),
				)
				metrics.BudgetCrawlCaps.Inc()
				a.MaxPages = m.opts.CrawlPageCap
			}
			normalized = append(normalized, a)
		case ActionTerminate:
			// Target is forbidden on terminate; clear it rather than fail.
			a.Target = ""
			normalized = append(normalized, a)
		default:
			normalized = append(normalized, m.coerce(a, fmt.Sprintf("unrecognized action type %q", a.Type)))
			res.Coerced++
		}
	}

	remaining := m.Remaining(usedThisCycle)
	if remaining <= 0 {
		actionable := 0
		for _, a := range normalized {
			if a.Actionable() {
				actionable++
			}
		}
		if actionable > 0 {
			m.logger.Warn("Deep-dive budget exhausted, discarding actionable entries",
				zap.Int("discarded", actionable),
				zap.Int("ceiling", m.opts.CycleCeiling),
			)
			metrics.BudgetForcedTerminations.Inc()
			res.Forced = true
			res.Truncated = actionable
		}
		res.Actions = []Action{{
			Type:          ActionTerminate,
			Justification: fmt.Sprintf("deep-dive action budget exhausted (%d/%d)", usedThisCycle, m.opts.CycleCeiling),
		}}
		return res
	}

	kept := make([]Action, 0, len(normalized))
	for _, a := range normalized {
		if !a.Actionable() {
			kept = append(kept, a)
			continue
		}
		if res.Kept >= remaining {
			res.Truncated++
			continue
		}
		res.Kept++
		kept = append(kept, a)
	}
	if res.Truncated > 0 {
		m.logger.Info("Truncated deep-dive actions to remaining budget",
			zap.Int("kept", res.Kept),
			zap.Int("truncated", res.Truncated),
			zap.Int("remaining_budget", remaining),
		)
		metrics.BudgetTruncations.Add(float64(res.Truncated))
	}
	if res.Coerced > 0 {
		metrics.BudgetCoercions.Add(float64(res.Coerced))
	}
	if len(kept) == 0 {
		kept = []Action{{
			Type:          ActionTerminate,
			Justification: "no actions survived normalization",
		}}
	}
	res.Actions = kept
	return res
}

func (m *Manager) coerce(a Action, why string) Action {
	m.logger.Info("Coercing invalid deep-dive action to terminate",
		zap.String("action_type", string(a.Type)),
		zap.String("reason", why),
	)
	return Action{
		Type:          ActionTerminate,
		Justification: why,
	}
}
