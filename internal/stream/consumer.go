package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/winubot/trading-engine/internal/config"
	"github.com/winubot/trading-engine/internal/types"
)

// SignalHandler processes one decoded signal.
type SignalHandler func(ctx context.Context, signal types.Signal) error

// SignalConsumer consumes trading signals from Kafka. Delivery is
// at-least-once; the fanout engine's deterministic order-group ids make
// re-delivered signals harmless.
type SignalConsumer struct {
	reader *kafka.Reader
}

// NewSignalConsumer creates a Kafka consumer for the signal topic.
func NewSignalConsumer(cfg config.KafkaConfig) *SignalConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	return &SignalConsumer{reader: reader}
}

// Consume reads signals until ctx is cancelled. A signal that fails to
// decode is logged and skipped; a handler error is logged and the loop
// continues, since one bad signal must not stall the stream.
func (c *SignalConsumer) Consume(ctx context.Context, handler SignalHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("kafka read: %w", err)
		}

		var signal types.Signal
		if err := json.Unmarshal(msg.Value, &signal); err != nil {
			log.Warn().
				Err(err).
				Int64("offset", msg.Offset).
				Msg("skipping undecodable signal message")
			continue
		}

		if err := handler(ctx, signal); err != nil {
			log.Error().
				Err(err).
				Str("signal_id", signal.ID).
				Str("symbol", signal.Symbol).
				Msg("signal fanout failed")
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *SignalConsumer) Close() error {
	return c.reader.Close()
}
