// Package ratecontrol caps outbound traffic to the model, search, and scrape
// services. Each provider gets a token-bucket rate limit plus a concurrency
// gate; together with the per-process gate this keeps the pipeline inside
// upstream rate limits no matter how wide a phase fans out.
package ratecontrol

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Limit configures one provider's outbound budget.
type Limit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
}

type fileConfig struct {
	Providers map[string]Limit `yaml:"providers"`
}

// Built-in limits; a yaml file at PROSPECTOR_RATES_PATH overrides per
// provider.
var builtInLimits = map[string]Limit{
	"llm":    {RequestsPerSecond: 2, Burst: 4, MaxConcurrent: 3},
	"search": {RequestsPerSecond: 1, Burst: 2, MaxConcurrent: 2},
	"scrape": {RequestsPerSecond: 2, Burst: 4, MaxConcurrent: 4},
}

type gate struct {
	limiter *rate.Limiter
	slots   chan struct{}
}

var (
	mu     sync.RWMutex
	gates  map[string]*gate
	loaded bool
)

func ensureLoaded() {
	mu.RLock()
	if loaded {
		mu.RUnlock()
		return
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return
	}

	limits := make(map[string]Limit, len(builtInLimits))
	for k, v := range builtInLimits {
		limits[k] = v
	}
	if path := os.Getenv("PROSPECTOR_RATES_PATH"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err == nil {
				for k, v := range fc.Providers {
					limits[k] = v
				}
			}
		}
	}

	gates = make(map[string]*gate, len(limits))
	for name, l := range limits {
		gates[name] = newGate(l)
	}
	loaded = true
}

func newGate(l Limit) *gate {
	if l.RequestsPerSecond <= 0 {
		l.RequestsPerSecond = 1
	}
	if l.Burst <= 0 {
		l.Burst = 1
	}
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = 1
	}
	return &gate{
		limiter: rate.NewLimiter(rate.Limit(l.RequestsPerSecond), l.Burst),
		slots:   make(chan struct{}, l.MaxConcurrent),
	}
}

// Acquire blocks until the provider has both a rate token and a concurrency
// slot, then returns a release function. Unknown providers get a default
// gate.
func Acquire(ctx context.Context, provider string) (func(), error) {
	ensureLoaded()

	mu.RLock()
	g, ok := gates[provider]
	mu.RUnlock()
	if !ok {
		mu.Lock()
		g, ok = gates[provider]
		if !ok {
			g = newGate(Limit{RequestsPerSecond: 1, Burst: 1, MaxConcurrent: 2})
			gates[provider] = g
		}
		mu.Unlock()
	}

	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquiring %s slot: %w", provider, ctx.Err())
	}
	if err := g.limiter.Wait(ctx); err != nil {
		<-g.slots
		return nil, fmt.Errorf("waiting for %s rate token: %w", provider, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-g.slots })
	}, nil
}

// Reset clears the loaded configuration, mostly for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	gates = nil
	loaded = false
}
