package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

// User-facing notices the dispatcher sends on its own behalf.
const (
	busyNotice    = "I'm still working on your previous message, one moment."
	apologyNotice = "Sorry, something went wrong handling that message. Please try again."
)

// MessageHandler is the single entry point deliveries are fed into; the
// dialogue engine implements it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, userID, text string, attachment *models.Attachment) error
}

// Dispatcher consumes inbound responses from a messaging service and hands
// each one to the handler on its own goroutine. A second message arriving for
// a user whose previous message is still being processed gets a busy notice
// instead of racing the in-flight turn; the check-and-set is atomic per user.
type Dispatcher struct {
	service Service
	handler MessageHandler

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher wiring a service to a handler.
func NewDispatcher(service Service, handler MessageHandler) *Dispatcher {
	return &Dispatcher{
		service:  service,
		handler:  handler,
		inflight: make(map[string]bool),
	}
}

// Start consumes the service's responses channel until it closes or the
// context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		slog.Info("Dispatcher started")
		for {
			select {
			case <-ctx.Done():
				slog.Info("Dispatcher stopping (context cancelled)")
				return
			case response, ok := <-d.service.Responses():
				if !ok {
					slog.Info("Dispatcher stopping (responses channel closed)")
					return
				}
				d.dispatch(ctx, response)
			}
		}
	}()
}

// Wait blocks until all in-flight workers have finished (for tests and
// shutdown).
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// dispatch canonicalizes the sender and spawns a worker, unless one is
// already processing a message for the same user.
func (d *Dispatcher) dispatch(ctx context.Context, response models.Response) {
	userID, err := d.service.ValidateAndCanonicalizeRecipient(CanonicalSender(response.From))
	if err != nil {
		slog.Warn("Dispatcher dropping delivery with invalid sender", "from", response.From, "error", err)
		return
	}

	if !d.tryAcquire(userID) {
		slog.Debug("Dispatcher user already in flight, sending busy notice", "user", userID)
		if err := d.service.SendMessage(ctx, userID, busyNotice); err != nil {
			slog.Error("Dispatcher busy notice failed", "user", userID, "error", err)
		}
		return
	}

	var attachment *models.Attachment
	if response.MediaURL != "" {
		attachment = &models.Attachment{URL: response.MediaURL, ContentType: response.MediaContentType}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(userID)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Dispatcher recovered panic in handler", "user", userID, "panic", r)
				d.apologize(ctx, userID)
			}
		}()

		if err := d.handler.HandleMessage(ctx, userID, response.Body, attachment); err != nil {
			slog.Error("Dispatcher handler failed", "user", userID, "error", err)
			d.apologize(ctx, userID)
		}
	}()
}

func (d *Dispatcher) apologize(ctx context.Context, userID string) {
	if err := d.service.SendMessage(ctx, userID, apologyNotice); err != nil {
		slog.Error("Dispatcher apology failed", "user", userID, "error", err)
	}
}

func (d *Dispatcher) tryAcquire(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[userID] {
		return false
	}
	d.inflight[userID] = true
	return true
}

func (d *Dispatcher) release(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, userID)
}

// CanonicalSender strips the transport prefix from a webhook sender field
// ("whatsapp:+14155550100" becomes "+14155550100").
func CanonicalSender(from string) string {
	return strings.TrimPrefix(from, "whatsapp:")
}
