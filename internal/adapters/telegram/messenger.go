package telegram

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

// Bot API guidance is about 30 messages per second across chats; stay well
// under it.
const defaultSendRate = 20

// Messenger implements pipeline.Messenger for Telegram.
type Messenger struct {
	client    *Client
	formatter Formatter
	limiter   *rate.Limiter
}

var _ pipeline.Messenger = (*Messenger)(nil)

// MessengerOption configures a Messenger.
type MessengerOption func(*Messenger)

// WithFormatter replaces the default formatter.
func WithFormatter(f Formatter) MessengerOption {
	return func(m *Messenger) { m.formatter = f }
}

// WithRateLimit caps sends per second. Zero or less disables limiting.
func WithRateLimit(perSecond float64) MessengerOption {
	return func(m *Messenger) {
		if perSecond <= 0 {
			m.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		m.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewMessenger creates a Messenger.
func NewMessenger(client *Client, opts ...MessengerOption) *Messenger {
	m := &Messenger{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(defaultSendRate), 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send renders and delivers a record. Rejections that retrying cannot fix
// (chat not found, bot blocked, bad markup) are marked permanent.
func (m *Messenger) Send(ctx context.Context, rec pipeline.NotificationRecord) error {
	if rec.Destination.ChatID == "" {
		return pipeline.Permanent(fmt.Errorf("no chat id for %s", rec.IssueID))
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := m.client.SendMessage(ctx, rec.Destination.ChatID, m.formatter.Format(rec), "HTML")
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() {
		return pipeline.Permanent(err)
	}
	return err
}
