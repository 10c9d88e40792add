// Package memory provides a recording in-memory channel for tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/relancehq/relance/pkg/channel"
)

// Channel records every send and can be primed to fail.
type Channel struct {
	mu       sync.Mutex
	sent     []channel.Message
	failWith error
	nextID   int
}

// NewChannel creates an empty recording channel.
func NewChannel() *Channel {
	return &Channel{}
}

// FailWith makes subsequent sends fail with the given error. Pass nil to
// restore success.
func (c *Channel) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failWith = err
}

// Send records the message and returns a synthetic message ID.
func (c *Channel) Send(_ context.Context, message channel.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failWith != nil {
		return "", c.failWith
	}

	c.sent = append(c.sent, message)
	c.nextID++

	return fmt.Sprintf("mem-%d", c.nextID), nil
}

// Sent returns a copy of all recorded messages.
func (c *Channel) Sent() []channel.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	sent := make([]channel.Message, len(c.sent))
	copy(sent, c.sent)

	return sent
}

// SentCount returns the number of recorded messages.
func (c *Channel) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sent)
}
