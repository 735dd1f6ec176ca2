package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher publishes JSON messages to a topic exchange.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewPublisher dials url and declares a durable topic exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         b,
	})
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// JSONPublisher is the subset of Publisher used by QueueNotifier.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// QueueNotifier hands messages to a mail/SMS worker through the exchange,
// with routing keys notify.email and notify.sms. An email counts as sent
// once the broker accepted the publish.
type QueueNotifier struct {
	pub  JSONPublisher
	from string
}

// NewQueueNotifier constructs a QueueNotifier.
func NewQueueNotifier(pub JSONPublisher, from string) *QueueNotifier {
	return &QueueNotifier{pub: pub, from: from}
}

func (n *QueueNotifier) SendEmail(ctx context.Context, to, subject, body string) bool {
	msg := Message{Channel: ChannelEmail, From: n.from, To: to, Subject: subject, Body: body}
	if err := n.pub.PublishJSON(ctx, "notify."+ChannelEmail, msg); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("to", to).Msg("email publish failed")
		return false
	}
	return true
}

func (n *QueueNotifier) SendSMS(ctx context.Context, to, text string) {
	msg := Message{Channel: ChannelSMS, To: to, Body: text}
	if err := n.pub.PublishJSON(ctx, "notify."+ChannelSMS, msg); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("to", to).Msg("sms publish failed")
	}
}
