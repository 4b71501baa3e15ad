package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"copyflow.org/internal/auth"
	"copyflow.org/internal/content"
	"copyflow.org/internal/workflow"
)

// Channels the service can deliver to.
const (
	ChannelBlog     = "blog"
	ChannelTwitter  = "twitter"
	ChannelLinkedIn = "linkedin"
)

var (
	// ErrUnknownChannel reports a channel outside the supported set.
	ErrUnknownChannel = errors.New("publish: unknown channel")

	// ErrDelivery reports a webhook failure. Nothing is recorded on the
	// item when delivery fails.
	ErrDelivery = errors.New("publish: delivery failed")
)

var knownChannels = map[string]bool{
	ChannelBlog:     true,
	ChannelTwitter:  true,
	ChannelLinkedIn: true,
}

const deliveryTimeout = 10 * time.Second

// Service delivers approved copy to external channels and records the
// publication on the item. Channels without a configured webhook are
// recorded without an outbound call, which keeps local setups working.
type Service struct {
	items    *content.Service
	webhooks map[string]string
	http     *http.Client
}

// NewService wires the publisher. webhooks maps channel name to endpoint
// URL and may be nil.
func NewService(items *content.Service, webhooks map[string]string) *Service {
	return &Service{
		items:    items,
		webhooks: webhooks,
		http:     &http.Client{Timeout: deliveryTimeout},
	}
}

// WithHTTPClient overrides the delivery client. Test use only.
func (s *Service) WithHTTPClient(c *http.Client) *Service {
	if c != nil {
		s.http = c
	}
	return s
}

type deliveryPayload struct {
	ContentID string `json:"content_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Channel   string `json:"channel"`
}

type deliveryResult struct {
	Ref string `json:"ref"`
}

// Publish delivers the item's edited body to the channel and appends a
// publication record. Only items in Approved can be published; the check
// runs before any outbound call so unapproved copy never leaves the system.
func (s *Service) Publish(ctx context.Context, actor auth.Identity, contentID, channel string) (*content.Item, error) {
	if !knownChannels[channel] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	it, err := s.items.Get(ctx, actor, contentID)
	if err != nil {
		return nil, err
	}
	if it.Status != workflow.StatusApproved {
		return nil, fmt.Errorf("%w: only approved content can be published, status is %q", content.ErrValidation, it.Status)
	}

	ref := ""
	if url := s.webhooks[channel]; url != "" {
		ref, err = s.deliver(ctx, url, deliveryPayload{
			ContentID: it.ID,
			Title:     it.Title,
			Body:      it.EditedContent,
			Channel:   channel,
		})
		if err != nil {
			return nil, err
		}
	}

	return s.items.RecordPublication(ctx, actor, contentID, content.Publication{
		Channel:     channel,
		ExternalRef: ref,
	})
}

func (s *Service) deliver(ctx context.Context, url string, payload deliveryPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned status %d", ErrDelivery, payload.Channel, resp.StatusCode)
	}

	var out deliveryResult
	if err := json.Unmarshal(mustRead(resp.Body), &out); err != nil {
		// A webhook that answers 2xx without a ref body is still a
		// successful delivery.
		return "", nil
	}
	return out.Ref, nil
}

func mustRead(r io.Reader) []byte {
	b, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return nil
	}
	return b
}
