// Package broker publishes and consumes attachment lifecycle events on Kafka.
// Chat messages never cross this channel; it only announces object storage
// activity to downstream services.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Action describes what happened to an attachment.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event is the payload published per attachment lifecycle change. Data holds
// the object key when relevant.
type Event struct {
	UserID string `json:"user_id"`
	Action Action `json:"action"`
	Data   string `json:"data,omitempty"`
}

// Producer writes events to a single topic, keyed by user id so one user's
// events stay ordered within a partition.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a producer for the given brokers and topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			WriteTimeout:           5 * time.Second,
		},
	}
}

// Publish sends one event.
func (p *Producer) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("broker: marshal event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("broker: publish: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads events from a topic within a consumer group. Offsets are
// committed only after an event has been decoded.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer builds a group consumer for the given brokers and topic.
func NewConsumer(brokers []string, groupID, topic string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     groupID,
			Topic:       topic,
			StartOffset: kafka.FirstOffset,
		}),
	}
}

// Consume blocks for the next event and commits its offset.
func (c *Consumer) Consume(ctx context.Context) (Event, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("broker: fetch: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return Event{}, fmt.Errorf("broker: decode event: %w", err)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return Event{}, fmt.Errorf("broker: commit: %w", err)
	}
	return ev, nil
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
