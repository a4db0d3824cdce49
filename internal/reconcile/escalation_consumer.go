package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
)

const consumerGroup = "storefront-reconcile"

// Backfiller journals an escalation unless the checkout is already there.
type Backfiller interface {
	Backfill(ctx context.Context, e Escalation) (bool, error)
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaReader(topic string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  consumerGroup,
		MaxBytes: 10e6, // 10MB
	})
}

// EscalationConsumer replays checkout.escalated events from the order topic
// into the journal. Escalations whose journal write failed at checkout time
// still reach the journal once it is back.
type EscalationConsumer struct {
	journal    Backfiller
	reader     MessageReader
	retryDelay time.Duration
	log        *slog.Logger
}

func NewEscalationConsumer(journal Backfiller, reader MessageReader, log *slog.Logger) *EscalationConsumer {
	return &EscalationConsumer{
		journal:    journal,
		reader:     reader,
		retryDelay: 5 * time.Second,
		log:        log,
	}
}

func (c *EscalationConsumer) Run(ctx context.Context) {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.log.Error("error closing kafka reader", "error", err)
		}
	}()
	for ctx.Err() == nil {
		if err := c.processMessage(ctx); err != nil && ctx.Err() == nil {
			c.log.ErrorContext(ctx, "error reading message", "error", err)
			sleep(ctx, c.retryDelay)
		}
	}
}

// processMessage handles one message. It is committed only once the journal
// has it, so a journal outage holds the partition until it recovers.
func (c *EscalationConsumer) processMessage(ctx context.Context) error {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return err
	}

	for {
		err := c.handle(ctx, m)
		if err == nil {
			break
		}
		c.log.WarnContext(ctx, "failed to backfill escalation, retrying",
			"error", err, "offset", m.Offset, "partition", m.Partition)
		if !sleep(ctx, c.retryDelay) {
			return ctx.Err()
		}
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("failed to commit offset %d: %w", m.Offset, err)
	}
	return nil
}

func (c *EscalationConsumer) handle(ctx context.Context, m kafka.Message) error {
	if eventType(m) != domain.EventCheckoutEscalated {
		return nil
	}

	// A broken payload never parses, so it is skipped instead of retried.
	var e Escalation
	if err := json.Unmarshal(m.Value, &e); err != nil {
		c.log.ErrorContext(ctx, "skipping malformed escalation event", "error", err, "key", string(m.Key))
		return nil
	}
	if e.CheckoutID == "" {
		c.log.ErrorContext(ctx, "skipping escalation event without checkout_id", "key", string(m.Key))
		return nil
	}

	inserted, err := c.journal.Backfill(ctx, e)
	if err != nil {
		return err
	}
	if inserted {
		c.log.WarnContext(ctx, "escalation backfilled into journal",
			"checkout_id", e.CheckoutID, "charge_id", e.ChargeID, "amount_minor", e.AmountMinor)
	}
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
