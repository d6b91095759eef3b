package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Turn is one prior conversation turn sent to the endpoint.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options is passed through verbatim as the endpoint's generation options.
type Options map[string]any

// Model describes one model reported by the tags endpoint.
type Model struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
	Digest     string `json:"digest"`
}

type tagsResp struct {
	Models []Model `json:"models"`
}

// ChatReply is the non-streaming chat response.
type ChatReply struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done               bool  `json:"done"`
	TotalDuration      int64 `json:"total_duration"`
	LoadDuration       int64 `json:"load_duration"`
	PromptEvalDuration int64 `json:"prompt_eval_duration"`
	EvalDuration       int64 `json:"eval_duration"`
}

// Health is the health endpoint payload.
type Health struct {
	Status string   `json:"status"`
	Models []string `json:"models"`
}

type chatReq struct {
	Model    string  `json:"model"`
	Messages []Turn  `json:"messages"`
	Stream   bool    `json:"stream"`
	Options  Options `json:"options"`
}

type generateReq struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options"`
}

// Client talks to a local llama.cpp / Ollama style generation endpoint.
type Client struct {
	BaseURL    string
	HTTP       *http.Client
	incomplete IncompletePolicy
	log        *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithIncompletePolicy sets how a stream that ends without a completion
// frame is reported. Default is IncompleteError.
func WithIncompletePolicy(p IncompletePolicy) ClientOption {
	return func(c *Client) { c.incomplete = p }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.HTTP = h }
}

func NewClient(baseURL string, log *zap.Logger, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434/api"
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTP:       &http.Client{Timeout: 90 * time.Second},
		incomplete: IncompleteError,
		log:        log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListModels fetches the models the endpoint has available.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := c.get(ctx, "/tags")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	var decoded tagsResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ai: decode tags: %w", err)
	}
	return decoded.Models, nil
}

// SendChat issues a synchronous, non-streaming chat call.
func (c *Client) SendChat(ctx context.Context, model string, turns []Turn, opts Options) (*ChatReply, error) {
	if opts == nil {
		opts = Options{}
	}
	resp, err := c.post(ctx, "/chat", chatReq{Model: model, Messages: turns, Stream: false, Options: opts})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	var decoded ChatReply
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ai: decode chat reply: %w", err)
	}
	return &decoded, nil
}

// SendChatStream opens a streaming generation call. The prior turns are
// flattened into the transcript prompt the generate endpoint expects; the
// status-to-error mapping is applied before any bytes are consumed. The
// returned Stream owns the response body.
func (c *Client) SendChatStream(ctx context.Context, model string, turns []Turn, opts Options) (*Stream, error) {
	if opts == nil {
		opts = Options{}
	}
	resp, err := c.postStream(ctx, "/generate/stream", generateReq{
		Model:   model,
		Prompt:  BuildPrompt(turns),
		Stream:  true,
		Options: opts,
	})
	if err != nil {
		return nil, err
	}
	if err := c.checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return NewStream(resp.Body, c.incomplete, c.log), nil
}

// HealthCheck probes the endpoint's health route.
func (c *Client) HealthCheck(ctx context.Context) (*Health, error) {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	var decoded Health
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ai: decode health: %w", err)
	}
	return &decoded, nil
}

// BuildPrompt flattens ordered turns into the alternating transcript the
// generate endpoint consumes, terminated by an open assistant turn.
func BuildPrompt(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case "user":
			b.WriteString("User: ")
			b.WriteString(t.Content)
			b.WriteString("\n")
		case "assistant":
			b.WriteString("Assistant: ")
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
	}
	b.WriteString("Assistant: ")
	return b.String()
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return resp, nil
}

// postStream is post with the client-wide timeout lifted: a generation can
// legitimately outlive it, and cancellation is the context's job.
func (c *Client) postStream(ctx context.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	hc := *c.HTTP
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return resp, nil
}

// checkStatus maps a non-success status to the error taxonomy. The caller
// still owns the body.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))

	wrap := func(sentinel error) error {
		if msg == "" {
			return sentinel
		}
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return wrap(ErrModelNotFound)
	case http.StatusRequestEntityTooLarge:
		return wrap(ErrMessageTooLarge)
	case http.StatusInternalServerError:
		return wrap(ErrServerError)
	default:
		return &UpstreamError{Status: resp.StatusCode, Body: msg}
	}
}
