// Package config loads the pipeline configuration from yaml with environment
// overrides, and hot-reloads tunable ceilings when the file changes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Ceilings bounds repeated and exploratory work so every run terminates.
type Ceilings struct {
	MaxIterations              int `mapstructure:"max_iterations"`
	MaxConsecutiveDeepDives    int `mapstructure:"max_consecutive_deep_dives"`
	MaxActionsPerDeepDiveCycle int `mapstructure:"max_actions_per_deep_dive_cycle"`
	CrawlPageCap               int `mapstructure:"crawl_page_cap"`
}

// Research tunes the research phase's fan-out and review prompt sizing.
type Research struct {
	ConcurrentScrapeLimit    int `mapstructure:"concurrent_scrape_limit"`
	MaxResultsPerQuery       int `mapstructure:"max_results_per_query"`
	MaxQueriesPerCycle       int `mapstructure:"max_queries_per_cycle"`
	MaxDocsForReview         int `mapstructure:"max_docs_for_review"`
	MaxReviewerSnippetLength int `mapstructure:"max_reviewer_snippet_length"`
}

// Retry bounds outbound collaborator calls.
type Retry struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	JitterFactor float64       `mapstructure:"jitter_factor"`
}

// Models names the model IDs per role.
type Models struct {
	Reasoning  string `mapstructure:"reasoning"`
	Structured string `mapstructure:"structured"`
	Relevance  string `mapstructure:"relevance"`
}

// Scope tunes the funded-project scope gate.
type Scope struct {
	LookbackYears    int      `mapstructure:"lookback_years"`
	AcceptedStatuses []string `mapstructure:"accepted_statuses"`
}

// Services holds collaborator endpoints. Empty values fall back to the
// clients' own env/default resolution.
type Services struct {
	LLMBaseURL    string `mapstructure:"llm_base_url"`
	SearchBaseURL string `mapstructure:"search_base_url"`
	ScrapeBaseURL string `mapstructure:"scrape_base_url"`
	RedisURL      string `mapstructure:"redis_url"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
}

// Temporal holds the workflow engine connection settings.
type Temporal struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// Config is the full pipeline configuration.
type Config struct {
	Ceilings  Ceilings `mapstructure:"ceilings"`
	Research  Research `mapstructure:"research"`
	Retry     Retry    `mapstructure:"retry"`
	Models    Models   `mapstructure:"models"`
	Scope     Scope    `mapstructure:"scope"`
	Services  Services `mapstructure:"services"`
	Temporal  Temporal `mapstructure:"temporal"`
	OutputDir string   `mapstructure:"output_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ceilings.max_iterations", 10)
	v.SetDefault("ceilings.max_consecutive_deep_dives", 5)
	v.SetDefault("ceilings.max_actions_per_deep_dive_cycle", 15)
	v.SetDefault("ceilings.crawl_page_cap", 50)

	v.SetDefault("research.concurrent_scrape_limit", 4)
	v.SetDefault("research.max_results_per_query", 10)
	v.SetDefault("research.max_queries_per_cycle", 10)
	v.SetDefault("research.max_docs_for_review", 15)
	v.SetDefault("research.max_reviewer_snippet_length", 5000)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "5s")
	v.SetDefault("retry.max_delay", "60s")
	v.SetDefault("retry.jitter_factor", 0.1)

	v.SetDefault("models.reasoning", "reasoner-large")
	v.SetDefault("models.structured", "extractor-small")
	v.SetDefault("models.relevance", "relevance-small")

	v.SetDefault("scope.lookback_years", 5)
	v.SetDefault("scope.accepted_statuses", []string{"funded", "approved", "under implementation"})

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "prospector")

	v.SetDefault("output_dir", "runs")
}

// Load reads configuration from the given yaml file (optional) with
// PROSPECTOR_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would break termination guarantees.
func (c *Config) Validate() error {
	if c.Ceilings.MaxIterations <= 0 {
		return fmt.Errorf("ceilings.max_iterations must be positive")
	}
	if c.Ceilings.MaxConsecutiveDeepDives < 0 {
		return fmt.Errorf("ceilings.max_consecutive_deep_dives must be non-negative")
	}
	if c.Ceilings.MaxActionsPerDeepDiveCycle <= 0 {
		return fmt.Errorf("ceilings.max_actions_per_deep_dive_cycle must be positive")
	}
	if c.Ceilings.CrawlPageCap <= 0 {
		return fmt.Errorf("ceilings.crawl_page_cap must be positive")
	}
	if c.Research.ConcurrentScrapeLimit <= 0 {
		return fmt.Errorf("research.concurrent_scrape_limit must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Scope.LookbackYears <= 0 {
		return fmt.Errorf("scope.lookback_years must be positive")
	}
	return nil
}
