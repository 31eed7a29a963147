package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"stocktrader/internal/config"
	"stocktrader/internal/models"
)

const proposeSystemPrompt = `You are a cautious equity trading analyst.
Given market context as JSON, respond with exactly one JSON object:
{"action":"BUY|SELL|HOLD","confidence":0.0-1.0,"size_pct":0.0-1.0,"reasoning":"...","escalated":false}
Respond with JSON only, no prose.`

const validateSystemPrompt = `You are a risk-focused trade validator.
Given a trade recommendation and portfolio state as JSON, respond with exactly one JSON object:
{"decision":"PROCEED|MODIFY|REJECT","confidence":0.0-1.0,"size_pct":0.0-1.0,"comments":"..."}
Include confidence and size_pct only when the decision is MODIFY.
Respond with JSON only, no prose.`

// Client talks to an OpenAI-compatible chat endpoint. Each retry
// attempt may hit a different configured model; the client itself is
// immutable and safe for concurrent use.
type Client struct {
	http   *resty.Client
	cfg    config.AdvisorConfig
	logger *zap.Logger
}

func NewClient(cfg config.AdvisorConfig, logger *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		http.SetAuthToken(cfg.APIKey)
	}
	return &Client{http: http, cfg: cfg, logger: logger}
}

// modelFor picks the model for a retry attempt, rotating through the
// configured list so a failing model is not retried blindly.
func (c *Client) modelFor(attempt int) string {
	if len(c.cfg.Models) == 0 {
		return ""
	}
	return c.cfg.Models[attempt%len(c.cfg.Models)]
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Propose(ctx context.Context, req ProposeRequest) (*Recommendation, error) {
	if c == nil {
		return nil, fmt.Errorf("advisor client not configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var rec Recommendation
	err = Retry(ctx, c.cfg.MaxRetries, c.cfg.RetryBaseDelay, func(ctx context.Context, attempt int) error {
		content, err := c.complete(ctx, attempt, proposeSystemPrompt, string(payload))
		if err != nil {
			return err
		}
		parsed := Recommendation{}
		if err := decodeJSONObject(content, &parsed); err != nil {
			return fmt.Errorf("propose response: %w", err)
		}
		parsed.Action = strings.ToUpper(strings.TrimSpace(parsed.Action))
		switch parsed.Action {
		case models.ActionBuy, models.ActionSell, models.ActionHold:
		default:
			return fmt.Errorf("propose response: unknown action %q", parsed.Action)
		}
		parsed.Symbol = req.Symbol
		rec = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Validate(ctx context.Context, req ValidateRequest) (*Validation, error) {
	if c == nil {
		return nil, fmt.Errorf("advisor client not configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var verdict Validation
	err = Retry(ctx, c.cfg.MaxRetries, c.cfg.RetryBaseDelay, func(ctx context.Context, attempt int) error {
		content, err := c.complete(ctx, attempt, validateSystemPrompt, string(payload))
		if err != nil {
			return err
		}
		parsed := Validation{}
		if err := decodeJSONObject(content, &parsed); err != nil {
			return fmt.Errorf("validate response: %w", err)
		}
		parsed.Decision = strings.ToUpper(strings.TrimSpace(parsed.Decision))
		switch parsed.Decision {
		case models.ValidationProceed, models.ValidationModify, models.ValidationReject:
		default:
			return fmt.Errorf("validate response: unknown decision %q", parsed.Decision)
		}
		verdict = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &verdict, nil
}

func (c *Client) complete(ctx context.Context, attempt int, system, user string) (string, error) {
	model := c.modelFor(attempt)

	var result chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: model,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			Temperature: 0.2,
		}).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("advisor returned %s: %s", resp.Status(), resp.String())
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("advisor returned no choices")
	}

	if c.logger != nil {
		c.logger.Debug("advisor completion",
			zap.String("model", model),
			zap.Int("attempt", attempt),
		)
	}
	return result.Choices[0].Message.Content, nil
}

// decodeJSONObject unmarshals the first JSON object embedded in text,
// tolerating code fences and prose around it.
func decodeJSONObject(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in %q", truncate(text, 120))
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
