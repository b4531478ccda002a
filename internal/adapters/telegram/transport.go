package telegram

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/apeks827/JiraTasksUpdate/internal/logging"
)

// MessageHandler processes one incoming message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *Message)
}

// Transport handles Telegram long polling and hands messages to a handler.
type Transport struct {
	client      *Client
	handler     MessageHandler
	pollTimeout int
	retryDelay  time.Duration

	mu     sync.Mutex
	offset int64 // next update id to request
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewTransport creates a new Telegram transport layer.
func NewTransport(client *Client, handler MessageHandler) *Transport {
	return &Transport{
		client:      client,
		handler:     handler,
		pollTimeout: 30,
		retryDelay:  time.Second,
		stopCh:      make(chan struct{}),
	}
}

// StartPolling begins the long-polling loop in a goroutine.
func (t *Transport) StartPolling(ctx context.Context) {
	t.wg.Add(1)
	go t.pollLoop(ctx)
}

// Stop stops the polling loop and waits for it to exit.
func (t *Transport) Stop() {
	t.once.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

func (t *Transport) pollLoop(ctx context.Context) {
	defer t.wg.Done()
	log := logging.WithComponent("telegram")
	log.Debug("Transport poll loop started")

	// Cancel the in-flight long poll on Stop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Transport poll loop stopped")
			return
		default:
			t.fetchAndProcess(ctx, log)
		}
	}
}

func (t *Transport) fetchAndProcess(ctx context.Context, log *slog.Logger) {
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	updates, err := t.client.GetUpdates(ctx, offset, t.pollTimeout)
	if err != nil {
		if ctx.Err() == nil {
			if errors.Is(err, ErrConflict) {
				log.Error("Another bot instance is polling, backing off", slog.Any("error", err))
			} else {
				log.Warn("Error fetching updates", slog.Any("error", err))
			}
			select {
			case <-ctx.Done():
			case <-time.After(t.retryDelay):
			}
		}
		return
	}

	for _, update := range updates {
		if update == nil {
			continue
		}
		if update.Message != nil && t.handler != nil {
			t.handler.HandleMessage(ctx, update.Message)
		}

		t.mu.Lock()
		if update.UpdateID >= t.offset {
			t.offset = update.UpdateID + 1
		}
		t.mu.Unlock()
	}
}

// Offset returns the next update id that will be requested.
func (t *Transport) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}
