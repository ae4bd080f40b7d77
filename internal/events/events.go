// Package events publishes delivery lifecycle events to the message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	DeliveryAssigned   = "delivery.assigned"
	DeliveryInTransit  = "delivery.in_transit"
	DeliveryArrived    = "delivery.arrived"
	DeliveryDelivering = "delivery.delivering"
	DeliveryDelivered  = "delivery.delivered"
	InvoiceIssued      = "invoice.issued"
)

// Event is the envelope written to the bus.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	OrderID    int64          `json:"order_id"`
	DeliveryID int64          `json:"delivery_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// New builds an event with a fresh id.
func New(typ string, orderID, deliveryID int64, at time.Time, data map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       typ,
		OccurredAt: at.UTC(),
		OrderID:    orderID,
		DeliveryID: deliveryID,
		Data:       data,
	}
}

// Publisher sends lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Noop drops every event. Used when the bus is disabled.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON keyed by order id, so one order's events stay ordered.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// KafkaConfig configures the publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaPublisher creates a synchronous kafka-go writer.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events: kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("events: kafka topic required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), slog.String("component", "kafka"))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...), slog.String("component", "kafka"))
		}),
	}
	return &KafkaPublisher{writer: writer, topic: cfg.Topic}, nil
}

// Publish encodes and writes the event.
func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", evt.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.OrderID, 10)),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
			{Key: "event-id", Value: []byte(evt.ID.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s to %s: %w", evt.Type, p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
