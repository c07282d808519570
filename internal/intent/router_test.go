package intent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Brownie44l1/cropai-api/internal/model"
)

func answer(raw string) ClassifierFunc {
	return func(context.Context, string) (string, error) { return raw, nil }
}

func TestRouteAdvisoryToken(t *testing.T) {
	r := NewRouter(answer(" LLM_Model "), time.Second)
	d := r.Route(context.Background(), "What is the best crop rotation for loamy soil?")

	assert.Equal(t, model.RouteAdvisory, d.Route)
	assert.Equal(t, StateAdvisoryPath, d.State)
	assert.True(t, d.Matched)
	assert.Equal(t, " LLM_Model ", d.Raw)
}

func TestRouteDiseaseToken(t *testing.T) {
	for _, raw := range []string{"ML_Model", "ml_model\n", "`ML_Model`", "\"ML_Model\".", "**ML_Model**"} {
		d := NewRouter(answer(raw), time.Second).Route(context.Background(), "My tomato leaves have brown spots")
		assert.Equal(t, model.RouteDisease, d.Route, "%q", raw)
		assert.Equal(t, StateDiseasePath, d.State, "%q", raw)
		assert.True(t, d.Matched, "%q", raw)
	}
}

func TestRouteUnrecognisedOutputDefaultsToAdvisory(t *testing.T) {
	for _, raw := range []string{"", "I think this is about disease", "ML_Model or LLM_Model", "ML_Node"} {
		d := NewRouter(answer(raw), time.Second).Route(context.Background(), "something")
		assert.Equal(t, model.RouteAdvisory, d.Route, "%q", raw)
		assert.False(t, d.Matched, "%q", raw)
	}
}

func TestRouteClassifierErrorDefaultsToAdvisory(t *testing.T) {
	failing := ClassifierFunc(func(context.Context, string) (string, error) {
		return "", errors.New("503 service unavailable")
	})
	d := NewRouter(failing, time.Second).Route(context.Background(), "why are my maize leaves yellow?")
	assert.Equal(t, model.RouteAdvisory, d.Route)
	assert.False(t, d.Matched)
}

func TestRouteTimeoutDefaultsToAdvisory(t *testing.T) {
	hanging := ClassifierFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	start := time.Now()
	d := NewRouter(hanging, 30*time.Millisecond).Route(context.Background(), "hello")
	assert.Equal(t, model.RouteAdvisory, d.Route)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRouteEmptyQuerySkipsClassifier(t *testing.T) {
	var calls atomic.Int32
	c := ClassifierFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return TokenDisease, nil
	})
	d := NewRouter(c, time.Second).Route(context.Background(), "   ")
	assert.Equal(t, model.RouteAdvisory, d.Route)
	assert.Zero(t, calls.Load())
}

func TestRouteWithoutClassifier(t *testing.T) {
	d := NewRouter(nil, 0).Route(context.Background(), "tomato blight")
	assert.Equal(t, model.RouteAdvisory, d.Route)
}

func TestRoutePromptCarriesQuery(t *testing.T) {
	var prompt string
	c := ClassifierFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return TokenAdvisory, nil
	})
	NewRouter(c, time.Second).Route(context.Background(), "  when to plant cassava  ")

	require.NotEmpty(t, prompt)
	assert.Contains(t, prompt, "Query: when to plant cassava")
	assert.Contains(t, prompt, TokenDisease)
	assert.Contains(t, prompt, TokenAdvisory)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "LLM_Model", Normalize(" LLM_Model "))
	assert.Equal(t, "ML_Model", Normalize("'ML_Model'"))
	assert.Equal(t, "ML_Model", Normalize("ML_\nModel"))
}

func TestRouteLogsStateOnce(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	failing := ClassifierFunc(func(context.Context, string) (string, error) {
		return "", errors.New("quota exceeded")
	})
	NewRouter(failing, time.Second).Route(context.Background(), "what is wrong with my maize?")
	NewRouter(answer("banana"), time.Second).Route(context.Background(), "what is wrong with my maize?")

	entries := logs.All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		var states []string
		for _, f := range e.Context {
			if f.Key == "state" {
				states = append(states, f.String)
			}
		}
		assert.Equal(t, []string{string(StateClassifying)}, states, e.Message)
	}
}
