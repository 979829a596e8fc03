package extract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdantlabs/prospector/internal/llm"
)

// scriptedModel returns canned responses per (model, format) call.
type scriptedModel struct {
	calls    []modelCall
	script   func(call modelCall, n int) (string, error)
	reasonOK string
}

type modelCall struct {
	Model  string
	System string
	User   string
	Format *llm.ResponseFormat
}

func (m *scriptedModel) Complete(_ context.Context, model, system, user string, format *llm.ResponseFormat) (string, error) {
	call := modelCall{Model: model, System: system, User: user, Format: format}
	m.calls = append(m.calls, call)
	if format == nil {
		if m.reasonOK != "" {
			return m.reasonOK, nil
		}
		return "some reasoning text", nil
	}
	return m.script(call, len(m.calls))
}

func (m *scriptedModel) structuredCalls() int {
	n := 0
	for _, c := range m.calls {
		if c.Format != nil {
			n++
		}
	}
	return n
}

func newTestPipeline(m ModelClient) *Pipeline {
	p := NewPipeline(m, Options{MaxAttempts: 3, RetryDelay: time.Millisecond}, zap.NewNop())
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

type planItem struct {
	Query string `json:"query"`
	Rank  int    `json:"rank"`
}

var testReq = Request{
	ReasoningModel:  "reasoner",
	StructuredModel: "extractor",
	SystemPrompt:    "think",
	UserPrompt:      "find datasets",
	Schema:          json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"rank":{"type":"integer"}}}`),
}

func TestRunAsHappyPathSingleObject(t *testing.T) {
	m := &scriptedModel{script: func(modelCall, int) (string, error) {
		return `{"query":"ghgi kenya","rank":1}`, nil
	}}
	items, reasoning, err := RunAs[planItem](context.Background(), newTestPipeline(m), testReq)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ghgi kenya", items[0].Query)
	assert.Equal(t, "some reasoning text", reasoning)
}

func TestRunAsArrayPayload(t *testing.T) {
	m := &scriptedModel{script: func(modelCall, int) (string, error) {
		return `[{"query":"a","rank":1},{"query":"b","rank":2}]`, nil
	}}
	items, _, err := RunAs[planItem](context.Background(), newTestPipeline(m), testReq)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRunAsStripsFences(t *testing.T) {
	m := &scriptedModel{script: func(modelCall, int) (string, error) {
		return "```json\n{\"query\":\"a\",\"rank\":1}\n```", nil
	}}
	items, _, err := RunAs[planItem](context.Background(), newTestPipeline(m), testReq)
	require.NoError(t, err)
	assert.Equal(t, "a", items[0].Query)
}

func TestStageAEmptyIsHardFailureWithoutRetry(t *testing.T) {
	m := &scriptedModel{}
	p := newTestPipeline(&emptyReasoner{inner: m})

	_, _, err := RunAs[planItem](context.Background(), p, testReq)
	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, StageReasoning, ee.Stage)
	assert.Equal(t, 1, ee.Attempts)
}

type emptyReasoner struct{ inner *scriptedModel }

func (e *emptyReasoner) Complete(ctx context.Context, model, system, user string, format *llm.ResponseFormat) (string, error) {
	if format == nil {
		return "", llm.ErrEmptyCompletion
	}
	return e.inner.Complete(ctx, model, system, user, format)
}

func TestStageBExhaustionReturnsTypedError(t *testing.T) {
	m := &scriptedModel{script: func(modelCall, int) (string, error) {
		return `not json at all`, nil
	}}
	p := newTestPipeline(m)

	_, _, err := RunAs[planItem](context.Background(), p, testReq)
	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, StageStructured, ee.Stage)
	// Exactly the configured number of attempts, no more.
	assert.Equal(t, 3, ee.Attempts)
	assert.Equal(t, 3, m.structuredCalls())
	assert.Contains(t, ee.LastRaw, "not json")
}

func TestStageBValidationFailureRetriesThenSucceeds(t *testing.T) {
	m := &scriptedModel{script: func(_ modelCall, n int) (string, error) {
		if n < 3 { // call 1 is the reasoning call
			return `{"query":"a","rank":"not-an-int"}`, nil
		}
		return `{"query":"a","rank":2}`, nil
	}}
	items, _, err := RunAs[planItem](context.Background(), newTestPipeline(m), testReq)
	require.NoError(t, err)
	assert.Equal(t, 2, items[0].Rank)
	assert.Equal(t, 2, m.structuredCalls())
}

func TestStageBEmptyStringIsRetryable(t *testing.T) {
	m := &scriptedModel{}
	first := true
	m.script = func(modelCall, int) (string, error) {
		if first {
			first = false
			return "", llm.ErrEmptyCompletion
		}
		return `{"query":"a","rank":1}`, nil
	}
	items, _, err := RunAs[planItem](context.Background(), newTestPipeline(m), testReq)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestStrictModeFallsBackToJSONObject(t *testing.T) {
	m := &scriptedModel{}
	m.script = func(call modelCall, _ int) (string, error) {
		if call.Format.Type == llm.FormatJSONSchema {
			return "", llm.ErrUnsupportedFormat
		}
		// The loose-mode prompt must carry the schema.
		if !strings.Contains(call.User, "properties") {
			return "", errors.New("schema missing from prompt")
		}
		return `{"query":"a","rank":1}`, nil
	}
	items, _, err := RunAs[planItem](context.Background(), newTestPipeline(m), testReq)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	// One rejected strict call plus one loose call; the fallback switch does
	// not consume a retry attempt.
	assert.Equal(t, 2, m.structuredCalls())
}

func TestUnknownFieldsRejected(t *testing.T) {
	m := &scriptedModel{script: func(modelCall, int) (string, error) {
		return `{"query":"a","rank":1,"hallucinated":"x"}`, nil
	}}
	_, _, err := RunAs[planItem](context.Background(), newTestPipeline(m), testReq)
	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, StageStructured, ee.Stage)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(`{"a":1}`))
	assert.Equal(t, "", StripFences("```json\n```"))
}
