// Package api implements the Provider contract for generic JSON-over-
// HTTP sending services: the message becomes one POST with a bearer
// token, the response yields a provider message id. Backend-specific
// quirks beyond that do not belong in the engine; this adapter is the
// uniform shape they plug into.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/productdevbook/unemail/internal/email"
	"github.com/productdevbook/unemail/internal/retry"
)

const (
	maxRetries        = 3
	initialRetryDelay = 1 * time.Second
	requestTimeout    = 30 * time.Second
)

// Config holds the settings for creating a Provider.
type Config struct {
	// Endpoint is the full URL of the service's send operation.
	Endpoint string
	// APIKey is sent as a bearer token.
	APIKey string
}

// Provider sends email through a hosted REST sending service.
type Provider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider for the given endpoint.
func New(cfg Config) *Provider {
	return &Provider{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Name returns "api".
func (p *Provider) Name() string { return "api" }

// Initialize checks the adapter is configured.
func (p *Provider) Initialize(_ context.Context) error {
	if p.endpoint == "" {
		return &email.Error{
			Kind:      email.KindProvider,
			Component: "api",
			Message:   "endpoint not configured",
		}
	}
	return nil
}

// IsAvailable reports whether the adapter is configured.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.Initialize(ctx) == nil
}

// sendRequest is the JSON body of the send operation.
type sendRequest struct {
	From        string              `json:"from"`
	To          []string            `json:"to"`
	Cc          []string            `json:"cc,omitempty"`
	Bcc         []string            `json:"bcc,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text,omitempty"`
	HTML        string              `json:"html,omitempty"`
	Attachments []attachmentPayload `json:"attachments,omitempty"`
}

type attachmentPayload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"` // base64
	Disposition string `json:"disposition,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// SendEmail posts the message to the service. Network failures and 5xx
// responses are retried with exponential backoff; 4xx responses are
// terminal.
func (p *Provider) SendEmail(ctx context.Context, opts *email.Options) (*email.Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(buildRequest(opts))
	if err != nil {
		return nil, &email.Error{
			Kind:      email.KindSerialization,
			Component: "api",
			Message:   "encoding request body failed",
			Cause:     err,
		}
	}

	var resp sendResponse
	err = retry.Do(ctx, func() error {
		return p.post(ctx, body, &resp)
	}, maxRetries, initialRetryDelay)
	if err != nil {
		if email.IsKind(err, email.KindProvider) {
			return nil, err
		}
		return nil, &email.Error{
			Kind:      email.KindProvider,
			Component: "api",
			Message:   "send request failed",
			Cause:     err,
		}
	}

	messageID := resp.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	return &email.Result{
		MessageID: messageID,
		SentAt:    time.Now().UTC(),
		Response:  resp.ID,
		Provider:  p.Name(),
	}, nil
}

// post performs one POST attempt and decodes a successful response into
// out.
func (p *Provider) post(ctx context.Context, body []byte, out *sendResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	res, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		if len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				// Services without a JSON response body still count as
				// accepted.
				log.Debug().Err(err).Msg("send response is not json")
			}
		}
		return nil
	case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("api returned status %d: %s", res.StatusCode, respBody)
	default:
		return retry.Permanent(&email.Error{
			Kind:      email.KindProvider,
			Component: "api",
			Message:   fmt.Sprintf("api rejected the message with status %d", res.StatusCode),
			Raw:       string(respBody),
		})
	}
}

func buildRequest(opts *email.Options) sendRequest {
	req := sendRequest{
		From:    opts.From,
		To:      opts.To,
		Cc:      opts.Cc,
		Bcc:     opts.Bcc,
		ReplyTo: opts.ReplyTo,
		Subject: opts.Subject,
		Text:    opts.Text,
		HTML:    opts.HTML,
	}
	for _, att := range opts.Attachments {
		req.Attachments = append(req.Attachments, attachmentPayload{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			Disposition: att.Disposition,
			ContentID:   att.ContentID,
		})
	}
	return req
}
