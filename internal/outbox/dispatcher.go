// Package outbox executes order side effects recorded after commit.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/notify"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultBaseDelay   = 30 * time.Second
	DefaultMaxAttempts = 6

	staleAfter = 10 * time.Minute
)

type Queue interface {
	ClaimNext(ctx context.Context, now time.Time) (models.OutboxEvent, error)
	MarkDone(ctx context.Context, id primitive.ObjectID) error
	MarkFailed(ctx context.Context, id primitive.ObjectID, cause string, retryAt time.Time) error
	ReleaseStale(ctx context.Context, before time.Time) (int64, error)
}

type OrderLoader interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (models.Order, error)
}

type Mailer interface {
	Send(ctx context.Context, msg notify.Email) error
}

type AffiliateReporter interface {
	Report(ctx context.Context, conv notify.Conversion) error
}

type OrderPublisher interface {
	PublishOrder(ctx context.Context, order models.Order) error
}

type Dispatcher struct {
	Queue      Queue
	Orders     OrderLoader
	Mailer     Mailer
	Affiliates AffiliateReporter
	Publisher  OrderPublisher

	Interval    time.Duration
	BaseDelay   time.Duration
	MaxAttempts int

	Now  func() time.Time
	Logf func(string, ...any)
}

func NewDispatcher(queue Queue, orders OrderLoader, mailer Mailer, affiliates AffiliateReporter, publisher OrderPublisher, interval time.Duration, logf func(string, ...any)) *Dispatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Dispatcher{
		Queue:       queue,
		Orders:      orders,
		Mailer:      mailer,
		Affiliates:  affiliates,
		Publisher:   publisher,
		Interval:    interval,
		BaseDelay:   DefaultBaseDelay,
		MaxAttempts: DefaultMaxAttempts,
		Now:         time.Now,
		Logf:        logf,
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if n, err := d.Queue.ReleaseStale(ctx, d.Now().UTC().Add(-staleAfter)); err != nil {
		d.Logf("[OUTBOX] [WARN] release stale events failed: %v", err)
	} else if n > 0 {
		d.Logf("[OUTBOX] [INFO] released %d stale events", n)
	}

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	d.Logf("[OUTBOX] [INFO] dispatcher started (interval=%s)", d.Interval)

	for {
		d.Drain(ctx)
		select {
		case <-ctx.Done():
			d.Logf("[OUTBOX] [INFO] dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain processes due events until none is left. It returns how many were
// claimed.
func (d *Dispatcher) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		ev, err := d.Queue.ClaimNext(ctx, d.Now().UTC())
		if errors.Is(err, database.ErrNotFound) {
			return n
		}
		if err != nil {
			d.Logf("[OUTBOX] [ERROR] claim failed: %v", err)
			return n
		}
		n++
		d.settle(ctx, ev, d.handle(ctx, ev))
	}
	return n
}

func (d *Dispatcher) settle(ctx context.Context, ev models.OutboxEvent, err error) {
	switch {
	case err == nil:
		if markErr := d.Queue.MarkDone(ctx, ev.ID); markErr != nil {
			d.Logf("[OUTBOX] [ERROR] mark %s done failed: %v", ev.ID.Hex(), markErr)
		}
		return
	case errors.Is(err, notify.ErrDisabled):
		d.Logf("[OUTBOX] [WARN] %s skipped: %v", ev.Type, err)
		if markErr := d.Queue.MarkDone(ctx, ev.ID); markErr != nil {
			d.Logf("[OUTBOX] [ERROR] mark %s done failed: %v", ev.ID.Hex(), markErr)
		}
		return
	}

	var retryAt time.Time
	if ev.Attempts < d.MaxAttempts && !errors.Is(err, database.ErrNotFound) {
		retryAt = d.Now().UTC().Add(d.Backoff(ev.Attempts))
		d.Logf("[OUTBOX] [WARN] %s attempt %d failed, retry at %s: %v", ev.Type, ev.Attempts, retryAt.Format(time.RFC3339), err)
	} else {
		d.Logf("[OUTBOX] [ERROR] %s for order %s gave up after %d attempts: %v", ev.Type, ev.OrderID.Hex(), ev.Attempts, err)
	}
	if markErr := d.Queue.MarkFailed(ctx, ev.ID, err.Error(), retryAt); markErr != nil {
		d.Logf("[OUTBOX] [ERROR] mark %s failed: %v", ev.ID.Hex(), markErr)
	}
}

// Backoff is BaseDelay doubled per previous attempt.
func (d *Dispatcher) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return d.BaseDelay << (attempts - 1)
}

func (d *Dispatcher) handle(ctx context.Context, ev models.OutboxEvent) error {
	order, err := d.Orders.FindByID(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}

	switch ev.Type {
	case models.EventReceiptEmail:
		if d.Mailer == nil {
			return notify.ErrDisabled
		}
		msg, err := notify.RenderReceipt(order, !strings.EqualFold(ev.Recipient, order.CustomerEmail))
		if err != nil {
			return err
		}
		msg.To = []string{ev.Recipient}
		if err := d.Mailer.Send(ctx, msg); err != nil {
			return err
		}
		d.Logf("[OUTBOX] [INFO] receipt for %s sent to %s", order.OrderNumber, notify.RedactEmail(ev.Recipient))
		return nil

	case models.EventAffiliateConversion:
		if d.Affiliates == nil {
			return notify.ErrDisabled
		}
		return d.Affiliates.Report(ctx, notify.Conversion{
			AffiliateCode: order.AffiliateCode,
			OrderNumber:   order.OrderNumber,
			Amount:        order.Subtotal.Float64(),
			Currency:      order.Currency,
			CreatedAt:     order.CreatedAt.UTC().Format(time.RFC3339),
		})

	case models.EventOrderPublished:
		if d.Publisher == nil {
			return nil
		}
		return d.Publisher.PublishOrder(ctx, order)

	default:
		return fmt.Errorf("unknown outbox event type %q", ev.Type)
	}
}
