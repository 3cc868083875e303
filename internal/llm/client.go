// Package llm is the client for the hosted AI gateway (OpenAI-compatible
// chat completions API).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wakelak/wakelak/internal/apperr"
	"github.com/wakelak/wakelak/internal/log"
)

const defaultTimeout = 15 * time.Second

// Client handles communication with the AI gateway.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func NewClient(baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// ChatStream sends a streaming chat request and returns the raw SSE body
// for the caller to relay. The caller owns closing the body. The returned
// stream is the gateway's own `data: <json>` framing, terminated by a
// `data: [DONE]` marker; it is passed through unmodified.
//
// Only the connection setup is bounded by the client timeout: a gateway
// that stalls before sending response headers fails with a timeout error,
// but once streaming begins the body may live arbitrarily long.
func (c *Client) ChatStream(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	setup := time.AfterFunc(c.timeout, func() {
		cancel(context.DeadlineExceeded)
	})

	resp, err := c.post(ctx, ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	setup.Stop()
	if err != nil {
		cancel(nil)
		return nil, err
	}
	return &streamBody{body: resp.Body, cancel: cancel}, nil
}

// streamBody releases the request context when the relayed stream is closed.
type streamBody struct {
	body   io.ReadCloser
	cancel context.CancelCauseFunc
}

func (s *streamBody) Read(p []byte) (int, error) { return s.body.Read(p) }

func (s *streamBody) Close() error {
	s.cancel(nil)
	return s.body.Close()
}

// Chat sends a non-streaming chat request and returns the assistant text.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, ChatRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(err, apperr.CodeUpstream, "unexpected AI gateway response")
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return "", apperr.New(apperr.CodeUpstream, "AI gateway returned no reply")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ChatTool sends a request that forces the model to respond through a single
// function call, and returns that call's raw JSON arguments. A reply without
// the expected tool call is an upstream error: free-form text is unreliable
// for this contract, so it is rejected rather than parsed.
func (c *Client) ChatTool(ctx context.Context, messages []Message, tool Tool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, ChatRequest{
		Model:      c.model,
		Messages:   messages,
		Tools:      []Tool{tool},
		ToolChoice: ForcedToolChoice(tool.Function.Name),
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(err, apperr.CodeUpstream, "unexpected AI gateway response")
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil || len(parsed.Choices[0].Message.ToolCalls) == 0 {
		return "", apperr.New(apperr.CodeUpstream, "the model did not return a structured proposal")
	}
	return parsed.Choices[0].Message.ToolCalls[0].Function.Arguments, nil
}

func (c *Client) post(ctx context.Context, reqBody ChatRequest) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, apperr.New(apperr.CodeCredentialMissing, "AI gateway key is not configured")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Logger.Debug("ai gateway POST /chat/completions",
		zap.String("model", reqBody.Model),
		zap.Int("messages", len(reqBody.Messages)),
		zap.Bool("stream", reqBody.Stream))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
			return nil, apperr.Wrap(err, apperr.CodeTimeout, "the AI gateway did not respond in time")
		}
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "could not reach the AI gateway")
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		log.Logger.Error("ai gateway error", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return nil, apperr.New(apperr.CodeRateLimited, "AI request limit reached, try again later")
		case http.StatusPaymentRequired:
			return nil, apperr.New(apperr.CodeQuotaExhausted, "AI service credits are exhausted")
		default:
			return nil, apperr.New(apperr.CodeUpstream, "AI gateway request failed")
		}
	}
	return resp, nil
}
