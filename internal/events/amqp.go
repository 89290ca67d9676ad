package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/firemarket/escrow-engine/internal/metrics"
	"github.com/firemarket/escrow-engine/internal/model"
)

// AMQPSink publishes events to a durable topic exchange with the event
// type as routing key.
type AMQPSink struct {
	conn     *amqp.Connection
	exchange string

	mu      sync.Mutex
	channel *amqp.Channel
}

// NewAMQPSink dials url, retrying a few times while the broker starts,
// and declares exchange.
func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	const maxRetries = 5
	retryDelay := 2 * time.Second

	var conn *amqp.Connection
	var err error
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		if i < maxRetries-1 {
			slog.Warn("amqp dial failed, retrying", "attempt", i+1, "err", err, "delay", retryDelay)
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", maxRetries, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{conn: conn, exchange: exchange, channel: ch}, nil
}

// Publish sends evs as persistent JSON messages.
func (s *AMQPSink) Publish(ctx context.Context, evs []model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range evs {
		body, err := json.Marshal(MessageFor(e))
		if err != nil {
			continue
		}
		err = s.channel.PublishWithContext(ctx,
			s.exchange,
			e.Type, // routing key
			false,  // mandatory
			false,  // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				MessageId:    e.ID,
				Timestamp:    e.Time,
				Type:         e.Type,
				Body:         body,
				DeliveryMode: amqp.Persistent,
			},
		)
		if err != nil {
			metrics.EventPublishErrors.WithLabelValues("amqp").Inc()
			slog.Warn("amqp publish failed", "type", e.Type, "seq", e.Seq, "err", err)
			continue
		}
		metrics.EventsPublished.WithLabelValues("amqp").Inc()
	}
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		s.channel.Close()
	}
	return s.conn.Close()
}
