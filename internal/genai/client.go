// Package genai wraps the hosted generative-content HTTP endpoint. The wire
// format follows the generativelanguage generateContent REST shape; only the
// first candidate's first text part is consumed.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUpstream reports a non-success response or a payload without the
	// expected text field.
	ErrUpstream = errors.New("genai: upstream error")

	// ErrUpstreamTimeout reports that the call (including its one retry)
	// did not complete within the configured timeout.
	ErrUpstreamTimeout = errors.New("genai: upstream timeout")
)

const (
	defaultTimeout = 20 * time.Second
	retryBackoff   = 500 * time.Millisecond

	// strategyPreamble frames open-ended prompts for the strategy endpoint.
	strategyPreamble = `As an expert marketing and business strategist, provide a detailed, actionable response for the following request. Structure the response clearly with headings and bullet points where appropriate:

REQUEST: %q`
)

// Client calls the generative endpoint with an explicit per-call timeout and
// a single retry with backoff.
type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	sleep    func(time.Duration)
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithSleep overrides the retry backoff sleeper. Test use only.
func WithSleep(fn func(time.Duration)) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// NewClient constructs a client for the given endpoint URL. The API key is
// passed as the key query parameter, matching the hosted API's contract.
func NewClient(endpoint, apiKey string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("genai: endpoint is required")
	}
	c := &Client{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(apiKey),
		timeout:  defaultTimeout,
		http:     &http.Client{},
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type generateRequest struct {
	Contents []requestContent `json:"contents"`
}

type requestContent struct {
	Role  string        `json:"role"`
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate returns generated text for the prompt. One retry with backoff on
// transient failure; deadline overruns surface as ErrUpstreamTimeout so the
// caller can report them distinctly.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrUpstream)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUpstreamTimeout, ctx.Err())
			default:
			}
			c.sleep(retryBackoff)
		}
		text, err := c.generateOnce(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if errors.Is(err, ErrUpstreamTimeout) && ctx.Err() != nil {
			// The caller's context is gone; retrying cannot help.
			return "", err
		}
	}
	return "", lastErr
}

// GenerateStrategy wraps the prompt with the strategist preamble. The result
// is returned to the caller without persistence.
func (c *Client) GenerateStrategy(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrUpstream)
	}
	return c.Generate(ctx, fmt.Sprintf(strategyPreamble, prompt))
}

func (c *Client) generateOnce(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := generateRequest{
		Contents: []requestContent{{
			Role:  "user",
			Parts: []requestPart{{Text: prompt}},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrUpstream, err)
	}

	url := c.endpoint
	if c.apiKey != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "key=" + c.apiKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: response has no candidates", ErrUpstream)
	}
	text := parsed.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: response text is empty", ErrUpstream)
	}
	return text, nil
}
