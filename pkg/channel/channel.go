// Package channel defines the outreach messaging port the engine sends
// through.
package channel

import (
	"context"
	"errors"
)

var (
	// ErrChannelUnavailable indicates a transient send failure (timeout,
	// 5xx-class). The step is not marked executed; the queue's redelivery
	// retries it.
	ErrChannelUnavailable = errors.New("outreach channel unavailable")

	// ErrRecipientInvalid indicates the recipient cannot receive messages.
	// The engine skips the instance rather than retrying forever.
	ErrRecipientInvalid = errors.New("recipient invalid")
)

// Message is one outbound send.
type Message struct {
	// Recipient is the destination address (phone number).
	Recipient string `json:"recipient"`

	// TemplateID selects the message template.
	TemplateID string `json:"template_id"`

	// Variables fill the template.
	Variables map[string]any `json:"variables,omitempty"`
}

// Channel sends messages to recipients. Send must bound its own blocking
// time; the engine treats it as the only blocking call inside a step.
type Channel interface {
	// Send delivers the message and returns the provider's message ID.
	// Failures are classified as ErrChannelUnavailable or
	// ErrRecipientInvalid.
	Send(ctx context.Context, message Message) (string, error)
}
