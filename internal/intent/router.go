// Package intent decides which capability a free-text farming question
// needs: the disease classifier or the general advisory model.
package intent

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/Brownie44l1/cropai-api/internal/metrics"
	"github.com/Brownie44l1/cropai-api/internal/model"
)

// Tokens the classifier is instructed to answer with.
const (
	TokenDisease  = "ML_Model"
	TokenAdvisory = "LLM_Model"
)

const routerPrompt = `You are a router for a farming assistant. The user may ask about:
- Crop rotation, soil, fertiliser, weather or farming techniques -> answer %s
- Plant disease, pests, leaf symptoms or treatment (often with a photo) -> answer %s
Respond ONLY with %s or %s.
Query: %s`

// State is a step of the routing machine.
type State string

const (
	StateStart        State = "start"
	StateClassifying  State = "classifying"
	StateDiseasePath  State = "disease_path"
	StateAdvisoryPath State = "advisory_path"
)

// Classifier returns a free-text completion for a routing prompt.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, prompt string) (string, error)

func (f ClassifierFunc) Classify(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Decision is the outcome of routing one query.
type Decision struct {
	Route   model.Route `json:"route"`
	State   State       `json:"state"`
	Raw     string      `json:"raw,omitempty"`
	Matched bool        `json:"matched"`
}

// Router holds no per-query state; one Router serves concurrent queries.
type Router struct {
	classifier Classifier
	timeout    time.Duration
}

func NewRouter(classifier Classifier, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{classifier: classifier, timeout: timeout}
}

// Prompt renders the routing instruction for query.
func Prompt(query string) string {
	return fmt.Sprintf(routerPrompt, TokenAdvisory, TokenDisease, TokenDisease, TokenAdvisory, query)
}

// Route classifies query. It never fails: classifier errors, timeouts and
// unrecognised answers all resolve to the advisory path.
func (r *Router) Route(ctx context.Context, query string) Decision {
	query = strings.TrimSpace(query)
	if query == "" || r.classifier == nil {
		return r.settle(Decision{}, false)
	}

	state := StateClassifying
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.classifier.Classify(ctx, Prompt(query))
	if err != nil {
		zap.L().Warn("intent classifier failed, using advisory path",
			zap.String("state", string(state)),
			zap.Error(err),
		)
		return r.settle(Decision{}, false)
	}

	d := Decision{Raw: raw}
	switch token := Normalize(raw); {
	case strings.EqualFold(token, TokenDisease):
		d.Route = model.RouteDisease
		return r.settle(d, true)
	case strings.EqualFold(token, TokenAdvisory):
		d.Route = model.RouteAdvisory
		return r.settle(d, true)
	default:
		zap.L().Info("intent output not recognised, using advisory path",
			zap.String("state", string(state)),
			zap.String("raw", raw),
			zap.Error(model.ErrUnsupportedIntentOutput),
		)
		return r.settle(d, false)
	}
}

func (r *Router) settle(d Decision, matched bool) Decision {
	if !matched {
		d.Route = model.RouteAdvisory
	}
	d.Matched = matched
	d.State = StateAdvisoryPath
	if d.Route == model.RouteDisease {
		d.State = StateDiseasePath
	}
	metrics.Routes.WithLabelValues(string(d.Route), fmt.Sprint(matched)).Inc()
	return d
}

// Normalize strips whitespace and the quoting or punctuation models tend to
// wrap single-token answers in.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "\"'`.*:;,!")
}
