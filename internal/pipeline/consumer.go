package pipeline

import (
	"context"
	"encoding/json"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/jpratama/fieldtrack-server/internal/protocol"
)

// StreamConsumer reads the accepted-points topic and drives a Processor.
// Points are keyed by session id, so a partition delivers each session's
// stream in publish order and the processor's per-session state holds.
type StreamConsumer struct {
	consumer  MessageSource
	processor *Processor
}

// MessageSource is the consuming side of the queue.
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// NewStreamConsumer creates a consumer bound to a processor.
func NewStreamConsumer(consumer MessageSource, processor *Processor) *StreamConsumer {
	return &StreamConsumer{consumer: consumer, processor: processor}
}

// Run consumes until the context ends. Handling failures are logged and the
// offset committed anyway: a skipped message leaves a gap the processor heals
// on the session's next point by replaying from storage.
func (sc *StreamConsumer) Run(ctx context.Context) error {
	for {
		msg, err := sc.consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := sc.handle(msg.Value); err != nil {
			log.Printf("Failed to process stream message: %v", err)
		}

		if err := sc.consumer.Commit(ctx, msg); err != nil {
			log.Printf("Failed to commit offset: %v", err)
		}
	}
}

func (sc *StreamConsumer) handle(value []byte) error {
	var envelope protocol.StreamEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return err
	}

	switch envelope.Type {
	case protocol.StreamTypePoint:
		msg, err := protocol.DecodePointMessage(value)
		if err != nil {
			return err
		}
		return sc.processor.HandlePoint(msg)

	case protocol.StreamTypeSessionClosed:
		msg, err := protocol.DecodeSessionClosedMessage(value)
		if err != nil {
			return err
		}
		return sc.processor.HandleSessionClosed(msg)

	default:
		log.Printf("Ignoring unknown stream message type %q", envelope.Type)
		return nil
	}
}
