// Package llm is the HTTP client for the model service. It supports the two
// response-format modes the extraction pipeline depends on: transport-enforced
// strict schema and best-effort JSON object.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/backoff"
	"github.com/verdantlabs/prospector/internal/circuitbreaker"
	"github.com/verdantlabs/prospector/internal/ratecontrol"
)

// Format names a response-format mode.
type Format string

const (
	FormatText       Format = "text"
	FormatJSONObject Format = "json_object"
	FormatJSONSchema Format = "json_schema"
)

// ResponseFormat asks the service to constrain the completion. Schema is
// required for FormatJSONSchema.
type ResponseFormat struct {
	Type   Format          `json:"type"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict bool            `json:"strict,omitempty"`
}

var (
	// ErrUnsupportedFormat reports a transport-level rejection of the
	// requested response format; callers fall back to a looser mode.
	ErrUnsupportedFormat = errors.New("response format not supported by endpoint")
	// ErrEmptyCompletion reports that the model returned no content.
	ErrEmptyCompletion = errors.New("model returned empty completion")
)

// Client talks to the model service.
type Client struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	policy  backoff.Policy
	logger  *zap.Logger
}

// NewClient creates a model client. An empty baseURL falls back to
// LLM_SERVICE_URL, then to the in-cluster default.
func NewClient(baseURL string, policy backoff.Policy, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("LLM_SERVICE_URL")
	}
	if baseURL == "" {
		baseURL = "http://llm-service:8000"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: 120 * time.Second}, "llm", logger),
		policy:  policy,
		logger:  logger,
	}
}

type completionRequest struct {
	Model          string          `json:"model"`
	System         string          `json:"system,omitempty"`
	Prompt         string          `json:"prompt"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type completionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Complete runs one completion. Transport failures and 5xx responses are
// retried under the client's policy; a rejected response format surfaces as
// ErrUnsupportedFormat without retries, and an empty completion as
// ErrEmptyCompletion without retries (the caller decides whether its stage
// treats emptiness as retryable).
func (c *Client) Complete(ctx context.Context, model, system, user string, format *ResponseFormat) (string, error) {
	reqBody := completionRequest{
		Model:          model,
		System:         system,
		Prompt:         user,
		ResponseFormat: format,
		Temperature:    0.1,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling completion request: %w", err)
	}

	var content string
	err = c.policy.Do(ctx, "llm.complete", c.logger, func(ctx context.Context) error {
		release, err := ratecontrol.Acquire(ctx, "llm")
		if err != nil {
			return backoff.Permanent(err)
		}
		defer release()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/complete", bytes.NewReader(bodyBytes))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating completion request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("calling model service: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("model service returned status %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			if format != nil && formatRejected(string(snippet)) {
				return backoff.Permanent(ErrUnsupportedFormat)
			}
			return backoff.Permanent(fmt.Errorf("model service rejected request (%d): %s", resp.StatusCode, snippet))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("model service returned status %d", resp.StatusCode)
		}

		var out completionResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decoding completion response: %w", err)
		}
		content = out.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// formatRejected sniffs a 4xx body for a response-format complaint.
func formatRejected(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "response_format") || strings.Contains(b, "json_schema")
}
