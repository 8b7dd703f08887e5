package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"concert-tickets/internal/config"
	"concert-tickets/internal/models"
)

// Producer streams order and ticket lifecycle events for downstream
// consumers (analytics, notification fan-out). Publishing is best effort;
// callers log and move on.
type Producer struct {
	Writer *kafka.Writer
	Topics config.TopicConfig
}

func NewProducer(brokers []string, topics config.TopicConfig) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{Writer: writer, Topics: topics}
}

func (p *Producer) publish(topic, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (p *Producer) PublishOrderCreated(order models.Order) error {
	return p.publish(p.Topics.OrderCreated, order.ID, order)
}

func (p *Producer) PublishOrderPaid(order models.Order, ticketCount int) error {
	return p.publish(p.Topics.OrderPaid, order.ID, struct {
		models.Order
		TicketCount int `json:"ticketCount"`
	}{Order: order, TicketCount: ticketCount})
}

func (p *Producer) PublishTicketRedeemed(ticket models.Ticket) error {
	return p.publish(p.Topics.TicketRedeemed, ticket.ID, ticket)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
