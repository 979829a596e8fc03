// Package runstatus publishes live run progress to Redis and keeps a cross-run
// cache of URLs already processed for a scope. Redis is an optional
// collaborator: every operation degrades to a logged no-op when it is down so
// a run never fails because status publication failed.
package runstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Status is the externally visible snapshot of a run.
type Status struct {
	RunID         string    `json:"run_id"`
	Mode          string    `json:"mode"`
	Geography     string    `json:"geography"`
	Sector        string    `json:"sector"`
	Phase         string    `json:"phase"`
	Iteration     int       `json:"iteration"`
	DocsScraped   int       `json:"docs_scraped"`
	FinalDecision string    `json:"final_decision,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store writes run status snapshots and the seen-URL cache.
type Store struct {
	client    *redis.Client
	logger    *zap.Logger
	statusTTL time.Duration
	seenTTL   time.Duration
}

// New connects to Redis at addr. A failed ping is not fatal: the store is
// still returned and operations degrade to no-ops until Redis recovers.
func New(addr string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, run status degraded to no-op",
			zap.String("addr", addr), zap.Error(err))
	}

	return &Store{
		client:    client,
		logger:    logger,
		statusTTL: 24 * time.Hour,
		seenTTL:   30 * 24 * time.Hour,
	}
}

// NewWithClient wraps an existing client, mostly for tests.
func NewWithClient(client *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:    client,
		logger:    logger,
		statusTTL: 24 * time.Hour,
		seenTTL:   30 * 24 * time.Hour,
	}
}

func statusKey(runID string) string { return "run:" + runID }

func seenKey(mode, geography string) string {
	return fmt.Sprintf("seen:%s:%s", mode, strings.ToLower(geography))
}

// Publish writes the status snapshot under run:<id> with a TTL. Errors are
// logged, never returned.
func (s *Store) Publish(ctx context.Context, st Status) {
	st.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(st)
	if err != nil {
		s.logger.Warn("Failed to marshal run status", zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, statusKey(st.RunID), payload, s.statusTTL).Err(); err != nil {
		s.logger.Warn("Failed to publish run status",
			zap.String("run_id", st.RunID), zap.Error(err))
	}
}

// Get fetches a run's status snapshot. A missing key returns (nil, nil).
func (s *Store) Get(ctx context.Context, runID string) (*Status, error) {
	raw, err := s.client.Get(ctx, statusKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching run status %s: %w", runID, err)
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decoding run status %s: %w", runID, err)
	}
	return &st, nil
}

// MarkSeen records URLs as processed for a scope so later runs over the same
// geography can skip them.
func (s *Store) MarkSeen(ctx context.Context, mode, geography string, urls ...string) {
	if len(urls) == 0 {
		return
	}
	members := make([]interface{}, len(urls))
	for i, u := range urls {
		members[i] = u
	}
	key := seenKey(mode, geography)
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, s.seenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("Failed to record seen URLs",
			zap.String("key", key), zap.Error(err))
	}
}

// Seen reports whether a URL was already processed for a scope. Any Redis
// error reads as not-seen so the pipeline reprocesses rather than skips.
func (s *Store) Seen(ctx context.Context, mode, geography, url string) bool {
	seen, err := s.client.SIsMember(ctx, seenKey(mode, geography), url).Result()
	if err != nil {
		return false
	}
	return seen
}

// Ping probes the Redis connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
