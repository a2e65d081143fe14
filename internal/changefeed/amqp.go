package changefeed

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// AMQPFeed publishes and consumes conversation events over a RabbitMQ topic
// exchange. Routing keys are conversations.<id> so external consumers can
// bind to a single conversation.
type AMQPFeed struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
}

// NewAMQPFeed dials the broker and declares the exchange.
func NewAMQPFeed(url, exchange, queue string) (*AMQPFeed, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPFeed{conn: conn, channel: ch, exchange: exchange, queue: queue}, nil
}

// Publish emits the event with persistent delivery.
func (f *AMQPFeed) Publish(ctx context.Context, event models.ConversationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = f.channel.PublishWithContext(ctx, f.exchange, "conversations."+event.ConversationID, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Body:         body,
	})
	if err != nil {
		observability.IncFeedPublishError()
		log.Error().Err(err).Str("conversation_id", event.ConversationID).Msg("changefeed publish failed")
	}
	return err
}

// Consume binds a queue to every conversation routing key and pumps events
// into the handler until ctx is cancelled. Redeliveries can occur, so the
// handler must tolerate duplicates.
func (f *AMQPFeed) Consume(ctx context.Context, handler Handler) error {
	q, err := f.channel.QueueDeclare(f.queue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := f.channel.QueueBind(q.Name, "conversations.#", f.exchange, false, nil); err != nil {
		return err
	}

	deliveries, err := f.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var event models.ConversationEvent
				if err := json.Unmarshal(d.Body, &event); err != nil {
					log.Error().Err(err).Msg("changefeed: dropping undecodable event")
					_ = d.Nack(false, false)
					continue
				}
				handler(event)
				_ = d.Ack(false)
			}
		}
	}()
	return nil
}

// Close tears down the channel and connection.
func (f *AMQPFeed) Close() error {
	if f.channel != nil {
		_ = f.channel.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
