package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter is the subset of *kafka.Writer used by KafkaEmitter.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes events as JSON keyed by entity id, so all events for
// one wallet or transaction land on the same partition.
type KafkaEmitter struct {
	writer KafkaWriter
}

// NewKafkaEmitter wraps a configured writer.
func NewKafkaEmitter(writer KafkaWriter) *KafkaEmitter {
	return &KafkaEmitter{writer: writer}
}

// Record publishes the event.
func (e *KafkaEmitter) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.EntityID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(event.Action)},
		},
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Close releases the underlying writer.
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}
