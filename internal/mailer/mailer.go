// Package mailer sends the account-flow emails (verification links,
// password resets, revert links). Sending is fire-and-forget: failures are
// logged, retried with backoff, and never influence the handler's redirect.
package mailer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

const (
	sendTimeout = 30 * time.Second
	maxTries    = 4
)

// SendAsync delivers a message on a background goroutine with exponential
// backoff. Errors are logged and dropped; the caller's request is already
// redirecting by the time delivery settles.
func SendAsync(m Mailer, msg Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, m.Send(ctx, msg)
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxTries))
		if err != nil {
			log.Error().Err(err).Str("to", msg.To).Str("subject", msg.Subject).Msg("Failed to send email")
		}
	}()
}

// Capture is a Mailer that records messages for tests.
type Capture struct {
	mu       sync.Mutex
	messages []Message
}

// NewCapture creates an empty capture mailer.
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (c *Capture) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}
