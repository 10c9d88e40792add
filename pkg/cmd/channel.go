package cmd

import (
	"log/slog"
	"strings"

	"github.com/relancehq/relance/pkg/channel"
	"github.com/relancehq/relance/pkg/channel/httpgateway"
	"github.com/relancehq/relance/pkg/channel/memory"
)

// NewChannel creates an outreach channel. An http(s):// URL selects the
// gateway channel; an empty or other value falls back to the recording
// in-memory channel for local development.
func NewChannel(gatewayURL, apiKey string, logger *slog.Logger) channel.Channel {
	if strings.HasPrefix(gatewayURL, "http://") || strings.HasPrefix(gatewayURL, "https://") {
		return httpgateway.NewGateway(gatewayURL, logger, httpgateway.WithAPIKey(apiKey))
	}

	return memory.NewChannel()
}
