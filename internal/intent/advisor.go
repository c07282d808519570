package intent

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

const advisorSystem = `You are Crop AI, an agronomy assistant for smallholder farmers.
You help with crop rotation, soil health, fertiliser planning, irrigation and
seasonal planting decisions. Give practical, region-aware advice. Keep answers
under 200 words unless more detail is requested.`

// Advisor answers questions routed to the advisory path.
type Advisor struct {
	llm Completer
}

func NewAdvisor(llm Completer) *Advisor {
	return &Advisor{llm: llm}
}

func (a *Advisor) Answer(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", eris.New("advisor: empty query")
	}
	text, err := a.llm.Complete(ctx, Completion{
		System:      advisorSystem,
		Prompt:      query,
		MaxTokens:   400,
		Temperature: 0.7,
	})
	if err != nil {
		return "", eris.Wrap(err, "advisor: complete")
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "*", "")), nil
}
