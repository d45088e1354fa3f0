package broker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPClient talks to a RabbitMQ broker. The connection is dialed lazily
// and re-dialed after failures; each operation uses a short-lived channel
// because a failed passive declare closes the channel it ran on.
type AMQPClient struct {
	url  string
	mu   sync.Mutex
	conn *amqp.Connection
}

func NewAMQPClient(url string) *AMQPClient {
	return &AMQPClient{url: url}
}

func (c *AMQPClient) channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("%w: dialing %s: %v", ErrBrokerUnavailable, c.url, err)
		}
		c.conn = conn
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: opening channel: %v", ErrBrokerUnavailable, err)
	}
	return ch, nil
}

func (c *AMQPClient) QueueDepth(ctx context.Context, queue string) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	ch, err := c.channel()
	if err != nil {
		return 0, 0, err
	}
	defer ch.Close()

	// Declare-ok reports ready messages only; unacked counts are not
	// visible over AMQP. Depth therefore underestimates briefly while
	// messages are in flight.
	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: inspecting queue %s: %v", ErrBrokerUnavailable, queue, err)
	}
	return q.Messages, q.Consumers, nil
}

func (c *AMQPClient) Publish(ctx context.Context, queue string, body []byte) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%w: declaring queue %s: %v", ErrBrokerUnavailable, queue, err)
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%w: publishing to %s: %v", ErrBrokerUnavailable, queue, err)
	}
	return nil
}

func (c *AMQPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
