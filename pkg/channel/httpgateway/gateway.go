// Package httpgateway sends outreach messages through an HTTP messaging
// gateway (a WhatsApp/SMS provider style API).
package httpgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/relancehq/relance/pkg/channel"
	"github.com/relancehq/relance/pkg/template"
)

const defaultTimeout = 30 * time.Second

// Gateway posts messages to a provider endpoint. When a local template body
// is registered for a template ID the rendered text is sent; otherwise the
// template ID and variables are forwarded for provider-side rendering.
type Gateway struct {
	url       string
	apiKey    string
	templates map[string]string
	client    *http.Client
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds each send. Sends past the bound fail as
// ErrChannelUnavailable.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.client.Timeout = timeout
	}
}

// WithAPIKey sets the bearer token sent to the provider.
func WithAPIKey(apiKey string) Option {
	return func(g *Gateway) {
		g.apiKey = apiKey
	}
}

// WithTemplates registers local template bodies keyed by template ID.
func WithTemplates(templates map[string]string) Option {
	return func(g *Gateway) {
		g.templates = templates
	}
}

// NewGateway creates a gateway posting to the given URL.
func NewGateway(url string, logger *slog.Logger, opts ...Option) *Gateway {
	gateway := &Gateway{
		url:       url,
		templates: make(map[string]string),
		client:    &http.Client{Timeout: defaultTimeout},
		logger:    logger.With("module", "http_gateway"),
	}

	for _, opt := range opts {
		opt(gateway)
	}

	return gateway
}

type sendRequest struct {
	Recipient  string         `json:"recipient"`
	TemplateID string         `json:"template_id,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
	Body       string         `json:"body,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// Send posts the message to the gateway and returns the provider message ID.
func (g *Gateway) Send(ctx context.Context, message channel.Message) (string, error) {
	request := sendRequest{Recipient: message.Recipient}

	if body, ok := g.templates[message.TemplateID]; ok {
		rendered, err := template.Render(body, message.Variables)
		if err != nil {
			return "", fmt.Errorf("failed to render template %s: %w", message.TemplateID, err)
		}

		request.Body = rendered
	} else {
		request.TemplateID = message.TemplateID
		request.Variables = message.Variables
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build send request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	response, err := g.client.Do(httpRequest)
	if err != nil {
		return "", fmt.Errorf("%w: %w", channel.ErrChannelUnavailable, err)
	}

	defer func() {
		err := response.Body.Close()
		if err != nil {
			g.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", channel.ErrChannelUnavailable, err)
	}

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		var decoded sendResponse

		err = json.Unmarshal(responseBody, &decoded)
		if err != nil || decoded.MessageID == "" {
			// Provider accepted the message but returned no usable ID.
			return "", nil
		}

		return decoded.MessageID, nil
	case response.StatusCode == http.StatusBadRequest || response.StatusCode == http.StatusNotFound || response.StatusCode == http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: gateway returned %d: %s", channel.ErrRecipientInvalid, response.StatusCode, responseBody)
	default:
		return "", fmt.Errorf("%w: gateway returned %d: %s", channel.ErrChannelUnavailable, response.StatusCode, responseBody)
	}
}
