package messaging

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/Palabra/internal/models"
	"github.com/BTreeMap/Palabra/internal/store"
)

// DefaultMaxInFlight bounds how many inbound messages are processed at once.
const DefaultMaxInFlight = 16

// MessageHandler turns one inbound message into one reply.
// *flow.Engine satisfies it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, phone, body string) string
}

// Dispatcher pumps a Service's inbound channel through a MessageHandler and
// sends each reply back through the Service.
type Dispatcher struct {
	svc         Service
	handler     MessageHandler
	dedup       store.DedupRepo
	maxInFlight int

	wg sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDedup drops inbound messages whose transport id was already recorded.
func WithDedup(repo store.DedupRepo) DispatcherOption {
	return func(d *Dispatcher) { d.dedup = repo }
}

// WithMaxInFlight overrides DefaultMaxInFlight.
func WithMaxInFlight(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxInFlight = n
		}
	}
}

// NewDispatcher creates a Dispatcher for svc.
func NewDispatcher(svc Service, handler MessageHandler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{svc: svc, handler: handler, maxInFlight: DefaultMaxInFlight}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins consuming inbound messages and receipts until ctx is done or
// the service closes its channels.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher starting", "max_in_flight", d.maxInFlight)
	d.wg.Add(2)
	go d.runInbound(ctx)
	go d.runReceipts(ctx)
}

// Wait blocks until both loops and every in-flight message have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) runInbound(ctx context.Context) {
	defer d.wg.Done()
	var g errgroup.Group
	g.SetLimit(d.maxInFlight)
	defer func() {
		g.Wait()
		slog.Info("Dispatcher stopped inbound processing")
	}()

	for {
		select {
		case msg, ok := <-d.svc.Inbound():
			if !ok {
				slog.Debug("Dispatcher inbound channel closed")
				return
			}
			g.Go(func() error {
				d.Process(ctx, msg)
				return nil
			})
		case <-ctx.Done():
			slog.Debug("Dispatcher stopping due to context cancellation")
			return
		}
	}
}

func (d *Dispatcher) runReceipts(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case r, ok := <-d.svc.Receipts():
			if !ok {
				return
			}
			slog.Debug("Dispatcher receipt", "to", r.To, "status", r.Status, "time", r.Time)
		case <-ctx.Done():
			return
		}
	}
}

// Process handles a single inbound message synchronously. It reports whether
// a reply was sent.
func (d *Dispatcher) Process(ctx context.Context, msg models.InboundMessage) bool {
	if err := msg.Validate(); err != nil {
		slog.Warn("Dispatcher dropping invalid message", "error", err, "from", msg.From)
		return false
	}
	phone, err := d.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Warn("Dispatcher dropping message from invalid sender", "error", err, "from", msg.From)
		return false
	}
	if d.dedup != nil && msg.MessageID != "" {
		fresh, err := d.dedup.RecordInbound(ctx, msg.MessageID, phone)
		if err != nil {
			// Process it anyway.
			slog.Error("Dispatcher dedup check failed", "error", err, "message_id", msg.MessageID)
		} else if !fresh {
			slog.Info("Dispatcher skipping duplicate message", "message_id", msg.MessageID, "phone", phone)
			return false
		}
	}

	reply := d.handler.HandleMessage(ctx, phone, msg.Body)
	if err := d.svc.SendMessage(ctx, phone, reply); err != nil {
		slog.Error("Dispatcher failed to send reply", "error", err, "phone", phone)
		return false
	}
	return true
}
