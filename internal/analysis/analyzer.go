package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// ObjectionText is an objection tag with the excerpt that triggered it.
type ObjectionText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the per-conversation classification.
type Result struct {
	Category           string          `json:"category"`
	Objections         []string        `json:"objections"`
	ObjectionsWithText []ObjectionText `json:"objections_with_text"`
	HasPriceMention    bool            `json:"has_price_mention"`
}

// Analyzer classifies one conversation. piiCount tells the collaborator how
// much of the text was redacted so it can temper its confidence.
type Analyzer interface {
	Analyze(ctx context.Context, text string, piiCount int) (*Result, error)
}

// Config for the HTTP analyzer.
type Config struct {
	GatewayURL string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxElapsed time.Duration // retry budget; analyzer failures are non-fatal
}

// DefaultAnalyzerConfig returns the gateway defaults.
func DefaultAnalyzerConfig(url, key, model string) Config {
	return Config{
		GatewayURL: url,
		APIKey:     key,
		Model:      model,
		Timeout:    12 * time.Second,
		MaxElapsed: 20 * time.Second,
	}
}

// HTTPAnalyzer calls an OpenAI-compatible chat gateway and expects strict
// JSON back. Transient gateway errors are retried with exponential backoff
// inside the MaxElapsed budget.
type HTTPAnalyzer struct {
	cfg    Config
	client *http.Client
	log    *logrus.Entry
}

// NewHTTPAnalyzer creates the gateway-backed analyzer.
func NewHTTPAnalyzer(cfg Config, log *logrus.Entry) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

const promptTemplate = `You classify retail sales-floor conversations.
Respond with only a JSON object:
{"category":"interaction"|"pitch"|"sale","objections":["price"|"competitor"|"not-interested"|"timing"|"trust",...],"objections_with_text":[{"type":...,"text":"<short verbatim excerpt>"},...],"has_price_mention":true|false}

%d word(s) of this conversation were redacted for privacy.
Conversation:
%s`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze classifies the conversation text.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, text string, piiCount int) (*Result, error) {
	if a.cfg.GatewayURL == "" || a.cfg.APIKey == "" {
		return nil, fmt.Errorf("analysis gateway not configured")
	}

	payload, _ := json.Marshal(chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(promptTemplate, piiCount, text)},
		},
		Temperature: 0.0,
	})

	var result *Result
	var lastErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.GatewayURL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

		resp, err := a.client.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("analysis gateway error: status %d: %s", resp.StatusCode, string(body))
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("analysis request rejected: status %d: %s", resp.StatusCode, string(body))
			return backoff.Permanent(lastErr)
		}

		parsed, err := parseGatewayBody(body)
		if err != nil {
			lastErr = err
			return err
		}
		result = parsed
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = a.cfg.MaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}
	return result, nil
}

// parseGatewayBody pulls the JSON object out of the chat completion, falling
// back to scanning the raw body when the gateway returns bare JSON.
func parseGatewayBody(body []byte) (*Result, error) {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Choices) > 0 {
		if r, err := extractJSON([]byte(parsed.Choices[0].Message.Content)); err == nil {
			return r, nil
		}
	}
	if r, err := extractJSON(body); err == nil {
		return r, nil
	}
	return nil, fmt.Errorf("unexpected analysis response: %s", string(body))
}

func extractJSON(content []byte) (*Result, error) {
	start := bytes.IndexByte(content, '{')
	end := bytes.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in analysis content")
	}
	var r Result
	if err := json.Unmarshal(content[start:end+1], &r); err != nil {
		return nil, err
	}
	if r.Category == "" {
		return nil, fmt.Errorf("analysis result missing category")
	}
	return &r, nil
}
