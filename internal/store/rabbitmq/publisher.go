package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/splitchat/internal/split"
)

// AttemptHeader counts deliveries of a result event through the retry queue.
const AttemptHeader = "x-attempt"

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
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

// EncodeResult is the wire form of a result event.
func EncodeResult(ev split.ResultEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func DecodeResult(body []byte) (split.ResultEvent, error) {
	var ev split.ResultEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return split.ResultEvent{}, err
	}
	if ev.ConversationID == "" || ev.MessageID == "" {
		return split.ResultEvent{}, errors.New("result event without key")
	}
	switch ev.Status {
	case split.ResultFinished, split.ResultFailed:
	default:
		return split.ResultEvent{}, fmt.Errorf("result event with status %q", ev.Status)
	}
	return ev, nil
}

func (p *Publisher) PublishResult(ctx context.Context, ev split.ResultEvent) error {
	body, err := EncodeResult(ev)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.MessageID,
		Body:         body,
		Timestamp:    time.Now(),
	})
}

// Report implements split.ResultSink.
func (p *Publisher) Report(ctx context.Context, ev split.ResultEvent) error {
	return p.PublishResult(ctx, ev)
}

// PublishRetry parks body on the retry queue; it dead-letters back to the
// main queue once delay expires.
func (p *Publisher) PublishRetry(ctx context.Context, d amqp.Delivery, attempt int, delay time.Duration) error {
	return p.publish(ctx, RetryQueue(p.queue), amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Body:         d.Body,
		Timestamp:    time.Now(),
		Expiration:   fmt.Sprintf("%d", delay.Milliseconds()),
		Headers:      amqp.Table{AttemptHeader: int32(attempt)},
	})
}

func (p *Publisher) publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",         // default exchange
		routingKey, // routing key = queue
		false,
		false,
		msg,
	)
}

// Attempt reads the retry counter of d; first deliveries are attempt 0.
func Attempt(d amqp.Delivery) int {
	switch v := d.Headers[AttemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
