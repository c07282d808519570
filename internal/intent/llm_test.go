package intent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicServer(t *testing.T, text string, check func(body map[string]any)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if check != nil {
			check(body)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_route_001",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":  42,
				"output_tokens": 3,
			},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestAnthropicClassifierRoutes(t *testing.T) {
	ts := anthropicServer(t, "ML_Model", func(body map[string]any) {
		assert.Equal(t, "claude-haiku-4-5-20251001", body["model"])
		assert.EqualValues(t, 16, body["max_tokens"])
	})

	llm, err := NewAnthropic("test-key", "", ts.URL)
	require.NoError(t, err)

	d := NewRouter(NewLLMClassifier(llm), 0).Route(context.Background(), "black rot on my grape leaves")
	assert.Equal(t, "disease", string(d.Route))
	assert.True(t, d.Matched)
}

func TestAnthropicAdvisor(t *testing.T) {
	ts := anthropicServer(t, "**Rotate** legumes after maize.", func(body map[string]any) {
		system, ok := body["system"].([]any)
		require.True(t, ok)
		require.Len(t, system, 1)
		assert.Contains(t, system[0].(map[string]any)["text"], "agronomy")
	})

	llm, err := NewAnthropic("test-key", "claude-haiku-4-5-20251001", ts.URL)
	require.NoError(t, err)

	text, err := NewAdvisor(llm).Answer(context.Background(), "What should I plant after maize?")
	require.NoError(t, err)
	assert.Equal(t, "Rotate legumes after maize.", text)
}

func TestAnthropicDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
	}))
	defer ts.Close()

	llm, err := NewAnthropic("test-key", "", ts.URL)
	require.NoError(t, err)

	d := NewRouter(NewLLMClassifier(llm), 0).Route(context.Background(), "soil pH for beans")
	assert.Equal(t, "advisory", string(d.Route))
	assert.False(t, d.Matched)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGeminiClassifier(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-2.5-flash:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "LLM_Model\n"}},
				},
				"finishReason": "STOP",
			}},
		})
	}))
	defer ts.Close()

	llm, err := NewGemini(context.Background(), "test-key", "", ts.URL)
	require.NoError(t, err)

	d := NewRouter(NewLLMClassifier(llm), 0).Route(context.Background(), "best fertiliser for cassava")
	assert.Equal(t, "advisory", string(d.Route))
	assert.True(t, d.Matched)
}

func TestGeminiDisablesThinkingForShortAnswers(t *testing.T) {
	var bodies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "ML_Model"}},
				},
				"finishReason": "STOP",
			}},
		})
	}))
	defer ts.Close()

	llm, err := NewGemini(context.Background(), "test-key", "", ts.URL)
	require.NoError(t, err)

	d := NewRouter(NewLLMClassifier(llm), 0).Route(context.Background(), "brown spots on my tomato leaves")
	assert.Equal(t, "disease", string(d.Route))

	_, err = NewAdvisor(llm).Answer(context.Background(), "when should I plant maize?")
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], `"thinkingBudget":0`)
	assert.NotContains(t, bodies[1], "thinkingBudget")
}

func TestCompletersRequireKey(t *testing.T) {
	_, err := NewAnthropic("", "", "")
	assert.Error(t, err)
	_, err = NewGemini(context.Background(), "", "", "")
	assert.Error(t, err)
}

func TestAdvisorRejectsEmptyQuery(t *testing.T) {
	_, err := NewAdvisor(nil).Answer(context.Background(), "  ")
	assert.Error(t, err)
}
