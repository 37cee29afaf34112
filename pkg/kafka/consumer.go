// Package kafka wraps segmentio/kafka-go for the two event streams of the
// engine: document changes going to the indexer and search events going to
// analytics. Values are JSON; the request ID travels as a message header.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/logger"
)

// MessageHandler processes one message. The context carries the request ID
// of the message's producer, if any.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// ErrSkip marks a message that was understood but deliberately ignored. It
// is committed without being logged as a failure.
var ErrSkip = errors.New("message skipped")

// Consumer feeds the messages of one topic, as a member of the configured
// group, to a MessageHandler.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	logger  *slog.Logger
}

// NewConsumer joins cfg.ConsumerGroup on topic. A group without committed
// offsets starts from the oldest message.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.FirstOffset,
		}),
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", cfg.ConsumerGroup),
	}
}

// Start consumes until ctx is done and then returns nil. Messages are
// committed only after the handler succeeds or skips them; a failed message
// is redelivered after the next rebalance or restart.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if ctx.Err() != nil {
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return nil
		}
		if err != nil {
			c.logger.Error("fetch failed", "error", err)
			continue
		}
		if !c.handle(ctx, msg) {
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// handle reports whether msg may be committed.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	ctx = withHeaders(ctx, msg.Headers)
	log := logger.FromContext(ctx).With("partition", msg.Partition, "offset", msg.Offset)
	log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

	err := c.handler(ctx, msg.Key, msg.Value)
	switch {
	case err == nil, errors.Is(err, ErrSkip):
		return true
	case ctx.Err() != nil:
		return false
	default:
		log.Error("message processing failed", "topic", msg.Topic, "error", err)
		return false
	}
}

func withHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	for _, h := range headers {
		if h.Key == RequestIDHeader && len(h.Value) > 0 {
			return logger.WithRequestID(ctx, string(h.Value))
		}
	}
	return ctx
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return v, fmt.Errorf("decoding kafka message: %w", err)
	}
	return v, nil
}
