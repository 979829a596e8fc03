// Package extract implements the two-stage structured extraction pipeline:
// free-form reasoning followed by schema-validated JSON extraction, with a
// response-format fallback, bounded retries, and a typed error on exhaustion.
// Every component that needs typed output from a model goes through it.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/llm"
	"github.com/verdantlabs/prospector/internal/metrics"
)

// Stage names the pipeline stage an error came from.
type Stage string

const (
	StageReasoning  Stage = "reasoning"
	StageStructured Stage = "structured"
)

const maxDiagnosticBytes = 500

// ExtractionError is the typed failure callers receive instead of raw model
// text. LastRaw carries a truncated diagnostic snippet of the last offending
// payload.
type ExtractionError struct {
	Stage    Stage
	Attempts int
	LastRaw  string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed at %s stage after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ModelClient is the slice of the model client the pipeline needs.
type ModelClient interface {
	Complete(ctx context.Context, model, system, user string, format *llm.ResponseFormat) (string, error)
}

// Options tunes a Pipeline.
type Options struct {
	// MaxAttempts bounds Stage B retries. Stage A is never retried.
	MaxAttempts int
	// RetryDelay is the fixed delay between Stage B attempts.
	RetryDelay time.Duration
}

// Pipeline runs the two-stage extraction call pattern.
type Pipeline struct {
	models ModelClient
	opts   Options
	logger *zap.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a pipeline. Zero options get the configured defaults.
func NewPipeline(models ModelClient, opts Options, logger *zap.Logger) *Pipeline {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		models: models,
		opts:   opts,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Request describes one extraction.
type Request struct {
	// ReasoningModel produces the free-form Stage A output. Leave empty to
	// skip Stage A and extract directly from UserPrompt.
	ReasoningModel string
	// StructuredModel produces the schema-constrained Stage B output.
	StructuredModel string

	SystemPrompt string
	UserPrompt   string
	// ExtractionPrompt is the Stage B system prompt; a default is used when
	// empty.
	ExtractionPrompt string
	// Schema is the JSON schema Stage B is constrained to.
	Schema json.RawMessage
}

// RawResult is the validated output plus the Stage A reasoning it came from.
type RawResult struct {
	Objects   []json.RawMessage
	Reasoning string
}

// Run performs Stage A then Stage B, returning validated JSON objects or a
// *ExtractionError. validate is applied to every parsed object; any failure
// makes the whole attempt retryable.
func (p *Pipeline) Run(ctx context.Context, req Request, validate func(json.RawMessage) error) (RawResult, error) {
	reasoning := req.UserPrompt
	if req.ReasoningModel != "" {
		metrics.ExtractionAttempts.WithLabelValues(string(StageReasoning)).Inc()
		out, err := p.models.Complete(ctx, req.ReasoningModel, req.SystemPrompt, req.UserPrompt, nil)
		if err != nil {
			// Stage A failures, including an empty completion, are hard
			// failures with no retry: there is nothing to extract from.
			metrics.ExtractionFailures.WithLabelValues(string(StageReasoning)).Inc()
			return RawResult{}, &ExtractionError{Stage: StageReasoning, Attempts: 1, Err: err}
		}
		reasoning = out
	}

	extractionPrompt := req.ExtractionPrompt
	if extractionPrompt == "" {
		extractionPrompt = "Extract the requested information from the text as JSON matching the schema exactly. Output a single JSON value and nothing else."
	}

	strict := &llm.ResponseFormat{Type: llm.FormatJSONSchema, Schema: req.Schema, Strict: true}
	loose := &llm.ResponseFormat{Type: llm.FormatJSONObject}
	format := strict
	userPrompt := reasoning
	fellBack := false

	var lastRaw string
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		metrics.ExtractionAttempts.WithLabelValues(string(StageStructured)).Inc()

		raw, err := p.models.Complete(ctx, req.StructuredModel, extractionPrompt, userPrompt, format)
		if errors.Is(err, llm.ErrUnsupportedFormat) && !fellBack {
			// The endpoint rejected strict mode; embed the schema in the
			// prompt and ask for a best-effort JSON object instead. The
			// switch does not consume an attempt.
			p.logger.Info("Strict schema mode rejected, falling back to JSON object mode")
			metrics.ExtractionFormatFallbacks.Inc()
			fellBack = true
			format = loose
			userPrompt = fmt.Sprintf("%s\n\nRespond with JSON matching this schema exactly:\n%s", reasoning, string(req.Schema))
			attempt--
			continue
		}
		if err != nil && !errors.Is(err, llm.ErrEmptyCompletion) {
			// Transport-level failure of Stage B: non-retried by the
			// pipeline (the client already retried transient conditions).
			metrics.ExtractionFailures.WithLabelValues(string(StageStructured)).Inc()
			return RawResult{}, &ExtractionError{Stage: StageStructured, Attempts: attempt, LastRaw: truncate(lastRaw), Err: err}
		}

		if errors.Is(err, llm.ErrEmptyCompletion) {
			lastRaw = ""
			lastErr = llm.ErrEmptyCompletion
		} else {
			objs, parseErr := parseObjects(raw, validate)
			if parseErr == nil {
				return RawResult{Objects: objs, Reasoning: reasoning}, nil
			}
			lastRaw = raw
			lastErr = parseErr
		}

		p.logger.Warn("Structured extraction attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.opts.MaxAttempts),
			zap.Error(lastErr),
		)
		if attempt < p.opts.MaxAttempts {
			if err := p.sleep(ctx, p.opts.RetryDelay); err != nil {
				return RawResult{}, &ExtractionError{Stage: StageStructured, Attempts: attempt, LastRaw: truncate(lastRaw), Err: err}
			}
		}
	}

	metrics.ExtractionFailures.WithLabelValues(string(StageStructured)).Inc()
	return RawResult{}, &ExtractionError{
		Stage:    StageStructured,
		Attempts: p.opts.MaxAttempts,
		LastRaw:  truncate(lastRaw),
		Err:      lastErr,
	}
}

// parseObjects strips fences, parses a JSON object or array of objects, and
// validates every element.
func parseObjects(raw string, validate func(json.RawMessage) error) ([]json.RawMessage, error) {
	text := StripFences(raw)
	if text == "" {
		return nil, fmt.Errorf("empty payload after fence stripping")
	}

	var objs []json.RawMessage
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &objs); err != nil {
			return nil, fmt.Errorf("parsing JSON array: %w", err)
		}
	} else {
		var single json.RawMessage
		if err := json.Unmarshal([]byte(text), &single); err != nil {
			return nil, fmt.Errorf("parsing JSON object: %w", err)
		}
		objs = []json.RawMessage{single}
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("payload contained no objects")
	}
	if validate != nil {
		for i, o := range objs {
			if err := validate(o); err != nil {
				return nil, fmt.Errorf("validating object %d: %w", i, err)
			}
		}
	}
	return objs, nil
}

// StripFences removes Markdown code-fence wrapping from a model payload.
func StripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

func truncate(s string) string {
	if len(s) <= maxDiagnosticBytes {
		return s
	}
	return s[:maxDiagnosticBytes]
}

// Validator lets a target type add semantic checks beyond decoding.
type Validator interface {
	Validate() error
}

// RunAs runs the pipeline and decodes every validated object into T. Decoding
// rejects unknown fields so schema drift surfaces as a retryable validation
// failure rather than silent data loss.
func RunAs[T any](ctx context.Context, p *Pipeline, req Request) ([]T, string, error) {
	res, err := p.Run(ctx, req, func(obj json.RawMessage) error {
		var v T
		dec := json.NewDecoder(strings.NewReader(string(obj)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&v); err != nil {
			return err
		}
		if val, ok := any(v).(Validator); ok {
			return val.Validate()
		}
		if val, ok := any(&v).(Validator); ok {
			return val.Validate()
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	out := make([]T, 0, len(res.Objects))
	for _, obj := range res.Objects {
		var v T
		if err := json.Unmarshal(obj, &v); err != nil {
			// Validated above; a failure here is a programming error.
			return nil, "", fmt.Errorf("decoding validated object: %w", err)
		}
		out = append(out, v)
	}
	return out, res.Reasoning, nil
}
