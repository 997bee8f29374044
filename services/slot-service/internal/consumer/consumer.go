package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/slotsync/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

type Inbox interface {
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	open        func() reader
	logger      *slog.Logger
	inbox       Inbox
	handler     Handler
	maxAttempts uint
	rewindDelay time.Duration
}

type Config struct {
	Brokers     string
	GroupID     string
	Topics      []string
	MaxAttempts int
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	open := func() reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: cfg.Topics,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
	}
	return newConsumer(open, logger, inbox, cfg.MaxAttempts, handler)
}

func newConsumer(open func() reader, logger *slog.Logger, inbox Inbox, maxAttempts int, handler Handler) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{
		open:        open,
		logger:      logger,
		inbox:       inbox,
		handler:     handler,
		maxAttempts: uint(maxAttempts),
		rewindDelay: 5 * time.Second,
	}
}

// Run commits a message only after it was handled or recognised as a
// duplicate. When processing fails the reader is closed and reopened, so the
// group resumes from the last committed offset and the event is redelivered.
func (c *Consumer) Run(ctx context.Context) {
	r := c.open()
	defer func() {
		if r != nil {
			r.Close()
		}
	}()

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if !c.process(ctx, msg) {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("event left uncommitted, rewinding", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			_ = r.Close()
			r = nil
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.rewindDelay):
			}
			r = c.open()
			continue
		}

		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// process reports whether msg may be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)

	ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
	if err != nil {
		c.logger.Error("inbox record failed", "err", err)
		span.RecordError(err)
		return false
	}
	if !ok {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return true
	}

	_, err = backoff.Retry(ctxSpan, func() (struct{}, error) {
		return struct{}{}, c.handler(ctxSpan, msg)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxAttempts),
	)
	if err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		if ferr := c.inbox.Forget(ctxSpan, meta.EventID); ferr != nil {
			c.logger.Error("inbox forget failed", "err", ferr, "event_id", meta.EventID)
		}
		return false
	}
	return true
}
