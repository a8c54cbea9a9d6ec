package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	commonhttp "diligence-engine/internal/common/http"
	"diligence-engine/internal/models"
)

const (
	GatewayName  = "genai-gateway"
	generatePath = "/api/ai/generate"
)

type GatewayConfig struct {
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
}

// GatewayProvider talks to an internal GenAI gateway that fronts a hosted
// model. Transient failures are retried with exponential backoff; every other
// kind is returned immediately.
type GatewayProvider struct {
	config GatewayConfig
	client *commonhttp.Client
}

func NewGatewayProvider(cfg GatewayConfig, client *commonhttp.Client) *GatewayProvider {
	if client == nil {
		client = commonhttp.NewClient(0)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &GatewayProvider{config: cfg, client: client}
}

func (p *GatewayProvider) Name() string              { return GatewayName }
func (p *GatewayProvider) Used() models.ProviderUsed { return models.ProviderPrimary }

type generateRequest struct {
	System         string  `json:"system"`
	Prompt         string  `json:"prompt"`
	ResponseFormat string  `json:"response_format"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
}

type generateResponse struct {
	Text string `json:"text"`
}

func (p *GatewayProvider) Analyze(ctx context.Context, sub *models.Submission) (*models.RawResult, error) {
	if p.config.BaseURL == "" {
		return nil, NewError(GatewayName, KindAuthError, errors.New("gateway base URL not configured"))
	}

	reqBody := generateRequest{
		System:         systemPrompt,
		Prompt:         BuildPrompt(sub),
		ResponseFormat: "json_object",
		MaxTokens:      p.config.MaxTokens,
		Temperature:    p.config.Temperature,
	}
	headers := map[string]string{}
	if p.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.config.APIKey
	}

	var lastErr *ProviderError
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, NewError(GatewayName, KindTransient, ctx.Err())
			}
		}

		text, perr := p.generate(ctx, headers, reqBody)
		if perr == nil {
			return ParseResult(GatewayName, text)
		}
		lastErr = perr
		if perr.Kind != KindTransient || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (p *GatewayProvider) generate(ctx context.Context, headers map[string]string, body generateRequest) (string, *ProviderError) {
	resp, err := p.client.PostJSON(ctx, p.config.BaseURL+generatePath, headers, body)
	if err != nil {
		return "", NewError(GatewayName, KindTransient, err)
	}
	if !resp.OK() {
		snippet := string(resp.Body)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		kind := ClassifyStatus(resp.StatusCode, snippet)
		return "", NewError(GatewayName, kind, fmt.Errorf("status %d: %s", resp.StatusCode, snippet))
	}

	// Some upstreams report exhausted quota inside a 200 envelope.
	if strings.Contains(strings.ToLower(string(resp.Body)), "insufficient_quota") {
		return "", NewError(GatewayName, KindQuotaExceeded, errors.New("insufficient_quota"))
	}

	var out generateResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", NewError(GatewayName, KindMalformedResponse, fmt.Errorf("decode envelope: %w", err))
	}
	return out.Text, nil
}
