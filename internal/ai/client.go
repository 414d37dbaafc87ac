package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Explainer produces AI-backed narratives for scored credit profiles.
type Explainer interface {
	Enabled() bool
	Explain(ctx context.Context, input ExplanationInput) (Analysis, error)
}

// Config holds OpenAI-compatible client parameters.
type Config struct {
	APIKey            string
	Model             string
	BaseURL           string
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
}

// Client implements Explainer against an OpenAI-compatible chat completions
// endpoint. A shared rate limiter spaces outbound calls regardless of how
// many analyses run concurrently.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

var ErrDisabled = errors.New("ai explainer disabled")

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = 0.2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	client := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm/6+1),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: temp,
		maxTokens:   cfg.MaxTokens,
	}
	return client, nil
}

// Enabled reports whether the client can make outbound calls.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Explain requests a structured credit analysis. A parseable but partially
// empty response is returned together with an IncompleteError so the caller
// can fill the remaining fields deterministically.
func (c *Client) Explain(ctx context.Context, input ExplanationInput) (Analysis, error) {
	if c == nil || !c.Enabled() {
		return Analysis{}, ErrDisabled
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Analysis{}, fmt.Errorf("rate limit wait: %w", err)
	}

	payload := c.buildPayload(input)
	body, err := json.Marshal(payload)
	if err != nil {
		return Analysis{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Analysis{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Analysis{}, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return Analysis{}, fmt.Errorf("openai status %d: %v", resp.StatusCode, apiErr)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Analysis{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Analysis{}, errors.New("openai empty response")
	}

	content := normalizeJSONBlock(decoded.Choices[0].Message.Content)
	if content == "" {
		return Analysis{}, errors.New("openai empty analysis")
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return Analysis{}, fmt.Errorf("parse ai response: %w", err)
	}

	sanitizeAnalysis(&analysis, input)
	if missing := analysis.MissingFields(); len(missing) > 0 {
		return analysis, &IncompleteError{Missing: missing}
	}
	return analysis, nil
}

// normalizeJSONBlock strips markdown fences and surrounding prose so the
// payload parses even when the model narrates around it.
func normalizeJSONBlock(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.IndexRune(trimmed, '\n'); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if strings.HasSuffix(trimmed, "```") {
			trimmed = trimmed[:len(trimmed)-3]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end >= start {
		return strings.TrimSpace(trimmed[start : end+1])
	}
	return trimmed
}

func (c *Client) buildPayload(input ExplanationInput) map[string]any {
	messages := []map[string]string{
		{
			"role":    "system",
			"content": "You are a senior credit analyst. Reply with a strict JSON object containing exactly the keys credit_score, credit_utilization, payment_history, avg_account_age, account_types, negative_items, detailed_analysis, improvement_advice, action_steps, negative_item_plans, roadmap_90_days, approval_advice, and faq. payment_history is an object with an integer key late. account_types maps account categories to integer counts. action_steps, negative_item_plans, roadmap_90_days, and faq are arrays of strings. Echo the numeric fields exactly as supplied; never invent different numbers. detailed_analysis is a concise executive summary of the profile's credit health and its main risks. action_steps must contain at least five concrete, personalized steps that reference the supplied numbers. negative_item_plans gives a step-by-step plan for every negative item, or a single maintenance note when there are none. roadmap_90_days lists three monthly milestones. approval_advice tailors lending odds to this profile. faq holds three to five myth-busting entries phrased as question and answer. Use clear, confident, encouraging language and never mention being an AI. Emit nothing outside the JSON object.",
		},
		{
			"role":    "user",
			"content": c.buildUserPrompt(input),
		},
	}
	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": c.temperature,
	}
	if c.maxTokens > 0 {
		payload["max_tokens"] = c.maxTokens
	}
	return payload
}

func (c *Client) buildUserPrompt(input ExplanationInput) string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "Model score: %d (band: %s)\n", input.ModelScore, input.Band)
	fmt.Fprintf(builder, "Credit utilization: %.1f%%\n", input.Features.CreditUtilization)
	fmt.Fprintf(builder, "Late payments: %d\n", input.Features.PaymentHistory.Late)
	fmt.Fprintf(builder, "Average account age: %.1f years\n", input.Features.AvgAccountAge)
	fmt.Fprintf(builder, "Negative items: %d\n", input.Features.NegativeItems)
	accounts := accountTypesMap(input.Features)
	if len(accounts) > 0 {
		parts := make([]string, 0, len(accounts))
		for _, kind := range []string{"credit_card", "loan", "mortgage", "other"} {
			if count, ok := accounts[kind]; ok {
				parts = append(parts, fmt.Sprintf("%s: %d", kind, count))
			}
		}
		fmt.Fprintf(builder, "Accounts: %s\n", strings.Join(parts, ", "))
	}
	for _, factor := range input.Factors {
		fmt.Fprintf(builder, "Factor %s (%s, %s): %s\n", factor.Name, factor.Value, factor.Impact, factor.Detail)
	}
	if input.Outlook.Likelihood != "" {
		fmt.Fprintf(builder, "Approval likelihood: %s\n", input.Outlook.Likelihood)
	}
	builder.WriteString("Write the analysis for the person who owns this profile, addressing them directly.\n")
	builder.WriteString("Anchor every recommendation in the numbers above; cite the specific figure a step is meant to move.\n")
	builder.WriteString("Populate the JSON fields with your final analysis.\n")
	return builder.String()
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// sanitizeAnalysis pins the numeric echo fields to their authoritative
// values and trims narrative noise. The language model never gets to move
// the score or the extracted features.
func sanitizeAnalysis(a *Analysis, input ExplanationInput) {
	if a == nil {
		return
	}
	a.CreditScore = input.ModelScore
	a.CreditUtilization = input.Features.CreditUtilization
	a.PaymentHistory = PaymentHistory{Late: input.Features.PaymentHistory.Late}
	a.AvgAccountAge = input.Features.AvgAccountAge
	a.AccountTypes = accountTypesMap(input.Features)
	a.NegativeItems = input.Features.NegativeItems

	a.DetailedAnalysis = strings.TrimSpace(a.DetailedAnalysis)
	a.ImprovementAdvice = strings.TrimSpace(a.ImprovementAdvice)
	a.ApprovalAdvice = strings.TrimSpace(a.ApprovalAdvice)
	a.ActionSteps = cleanList(a.ActionSteps)
	a.NegativeItemPlans = cleanList(a.NegativeItemPlans)
	a.Roadmap90Days = cleanList(a.Roadmap90Days)
	a.FAQ = cleanList(a.FAQ)
}

func cleanList(items []string) []string {
	out := items[:0]
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
