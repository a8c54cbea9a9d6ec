package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"diligence-engine/internal/models"
)

const (
	AnthropicName         = "anthropic"
	DefaultAnthropicModel = string(anthropic.ModelClaudeSonnet4_20250514)
	defaultMaxTokens      = 4096
)

// AnthropicMessager is the slice of the SDK client the provider needs.
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

type AnthropicProvider struct {
	messages  AnthropicMessager
	model     string
	maxTokens int64
	hasKey    bool
}

// NewAnthropicProvider builds the SDK client from cfg. A missing API key is
// not an error here; every call then fails with auth_error so the cascade
// moves on.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	key := strings.TrimSpace(cfg.APIKey)
	c := anthropic.NewClient(option.WithAPIKey(key))
	p := NewAnthropicProviderWith(&c.Messages, cfg)
	p.hasKey = key != ""
	return p
}

// NewAnthropicProviderWith uses an existing messager, typically a test double.
func NewAnthropicProviderWith(messages AnthropicMessager, cfg AnthropicConfig) *AnthropicProvider {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicProvider{
		messages:  messages,
		model:     model,
		maxTokens: maxTokens,
		hasKey:    true,
	}
}

func (p *AnthropicProvider) Name() string              { return AnthropicName }
func (p *AnthropicProvider) Used() models.ProviderUsed { return models.ProviderPrimary }
func (p *AnthropicProvider) Model() string             { return p.model }

func (p *AnthropicProvider) Analyze(ctx context.Context, sub *models.Submission) (*models.RawResult, error) {
	if !p.hasKey {
		return nil, NewError(AnthropicName, KindAuthError, errors.New("ANTHROPIC_API_KEY not configured"))
	}

	resp, err := p.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(sub)))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return nil, NewError(AnthropicName, classifyAnthropicError(err), err)
	}
	if resp == nil {
		return nil, NewError(AnthropicName, KindMalformedResponse, errors.New("nil message"))
	}

	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	if string(resp.StopReason) == "max_tokens" {
		return nil, NewError(AnthropicName, KindMalformedResponse, fmt.Errorf("response truncated at %d tokens", p.maxTokens))
	}
	return ParseResult(AnthropicName, sb.String())
}

func classifyAnthropicError(err error) ErrorKind {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return ClassifyStatus(apiErr.StatusCode, apiErr.RawJSON())
	}
	return KindTransient
}
