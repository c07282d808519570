package intent

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

// Completion is a single-turn LLM request.
type Completion struct {
	System      string
	Prompt      string
	MaxTokens   int32
	Temperature float32
}

// Completer returns one text completion. No streaming, no retries.
type Completer interface {
	Complete(ctx context.Context, req Completion) (string, error)
}

// LLMClassifier classifies routing prompts with a Completer.
type LLMClassifier struct {
	llm Completer
}

func NewLLMClassifier(llm Completer) *LLMClassifier {
	return &LLMClassifier{llm: llm}
}

func (c *LLMClassifier) Classify(ctx context.Context, prompt string) (string, error) {
	return c.llm.Complete(ctx, Completion{
		Prompt:    prompt,
		MaxTokens: 16,
	})
}

// shortAnswerTokens is the output cap at or below which Gemini thinking is
// turned off.
const shortAnswerTokens = 64

// Gemini completes prompts with the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini client. baseURL is optional.
func NewGemini(ctx context.Context, apiKey, modelName, baseURL string) (*Gemini, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &Gemini{client: client, model: modelName}, nil
}

func (g *Gemini) Complete(ctx context.Context, req Completion) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = req.MaxTokens
	}
	// Thinking tokens count against MaxOutputTokens and would leave a short
	// answer empty.
	if req.MaxTokens > 0 && req.MaxTokens <= shortAnswerTokens {
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)}
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}, config)
	if err != nil {
		return "", eris.Wrap(err, "gemini: generate content")
	}
	return resp.Text(), nil
}

// Anthropic completes prompts with the Anthropic Messages API.
type Anthropic struct {
	client sdk.Client
	model  string
}

// NewAnthropic creates an Anthropic client with SDK retries disabled.
func NewAnthropic(apiKey, modelName, baseURL string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, eris.New("anthropic: api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if modelName == "" {
		modelName = "claude-haiku-4-5-20251001"
	}
	return &Anthropic{client: sdk.NewClient(opts...), model: modelName}, nil
}

func (a *Anthropic) Complete(ctx context.Context, req Completion) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 512
	}
	params := sdk.MessageNewParams{
		Model:       sdk.Model(a.model),
		MaxTokens:   maxTokens,
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
		Temperature: sdk.Float(float64(req.Temperature)),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", eris.Wrap(err, "anthropic: create message")
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
