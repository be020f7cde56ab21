package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/estio/conversations-gateway/pkg/logger"
)

// Routing keys for conversation/message events.
const (
	KeyMessageSent          = "message.sent"
	KeyMessageReceived      = "message.received"
	KeyConversationArchived = "conversation.archived"
	KeyConversationDeleted  = "conversation.deleted"
)

type Meta struct {
	ID         string    `json:"id"`
	LocationID string    `json:"locationId"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

// New connects to the broker and declares the topic exchange. Callers that
// run without a broker should use NewFallback instead.
func New(url, exchange string) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &rmqPublisher{
		conn:     conn,
		exchange: exchange,
	}, nil
}

func (p *rmqPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if msg.Meta.ID == "" {
		msg.Meta.ID = uuid.NewString()
	}
	if msg.Meta.OccurredAt.IsZero() {
		msg.Meta.OccurredAt = time.Now()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    msg.Meta.ID,
			Timestamp:    msg.Meta.OccurredAt,
			Body:         body,
		},
	)
	if err == nil {
		logger.Debug("event published", "key", key, "exchange", p.exchange)
	}
	return err
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}

type fallbackPublisher struct{}

// NewFallback returns a publisher that drops every event. Used when no broker
// is configured so callers never branch on "is eventing enabled".
func NewFallback() Publisher {
	return &fallbackPublisher{}
}

func (p *fallbackPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	logger.Debug("event publisher disabled, skipped publish", "key", key)
	return nil
}

func (p *fallbackPublisher) Close() error {
	return nil
}
