// Package completion calls an OpenAI compatible chat completions endpoint and
// returns the model's answer as JSON.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ManuelReschke/DocFox/internal/pkg/config"
	"github.com/ManuelReschke/DocFox/internal/pkg/resilience"
)

var ErrEmptyResponse = errors.New("No content in AI response")

const maxTokens = 8000

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client returns the parsed JSON answer for a conversation.
type Client interface {
	GenerateCompletion(ctx context.Context, messages []Message, model string) (json.RawMessage, error)
}

// APIError is a non-2xx answer from the endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion api error (%d): %s", e.Status, e.Body)
}

type chatRequest struct {
	Model          string            `json:"model"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
	Messages       []Message         `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type HTTPClient struct {
	cfg     config.Completion
	http    *http.Client
	limiter *resilience.RateLimiter
	breaker resilience.Breaker
	retry   resilience.RetryPolicy
}

func New(cfg config.Completion) *HTTPClient {
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: resilience.NewRateLimiter(cfg.RequestsPerMin, 2),
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:             "completion",
			FailureThreshold: 5,
			MinRequests:      5,
			Interval:         time.Minute,
			OpenTimeout:      time.Minute,
			Ignore:           isClientError,
		}),
		retry: resilience.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  2 * time.Second,
			Retryable:  isRetryable,
		},
	}
}

func isClientError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500 && ae.Status != http.StatusTooManyRequests
}

func isRetryable(err error) bool {
	if resilience.IsOpen(err) || errors.Is(err, context.Canceled) || errors.Is(err, ErrUnparseable) {
		return false
	}
	return !isClientError(err)
}

// GenerateCompletion sends the conversation and parses the reply. An empty
// model uses the configured default.
func (c *HTTPClient) GenerateCompletion(ctx context.Context, messages []Message, model string) (json.RawMessage, error) {
	if model == "" {
		model = c.cfg.Model
	}
	ctx, span := otel.Tracer("docfox/completion").Start(ctx, "completion.generate")
	defer span.End()
	span.SetAttributes(attribute.String("completion.model", model), attribute.Int("completion.messages", len(messages)))

	var content string
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.breaker.Execute(func() error {
			var err error
			content, err = c.do(ctx, model, messages)
			return err
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Errorf("[Completion] Request with model %s failed: %v", model, err)
		return nil, err
	}

	log.Debugf("[Completion] Model %s answered with %d chars", model, len(content))
	out, err := ParseJSON(content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:          model,
		Temperature:    0,
		MaxTokens:      maxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
		Messages:       messages,
	})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return parsed.Choices[0].Message.Content, nil
}
