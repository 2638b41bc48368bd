package rabbit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeOrderPlaced = "order_placed"
	ExchangeItemsAdded  = "order_items_added"
	ExchangeFloorEvents = "floor_events"

	queueOrders = "floor_dispatch_orders"
	queueItems  = "floor_dispatch_items"
)

// Client owns one connection and one channel. Publishes are serialized.
type Client struct {
	conn *amqp091.Connection
	ch   *amqp091.Channel
	mu   sync.Mutex
}

func Dial(url string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &Client{conn: conn, ch: ch}, nil
}

func (c *Client) Channel() *amqp091.Channel { return c.ch }

// NotifyClose fires once when the connection goes away.
func (c *Client) NotifyClose() <-chan *amqp091.Error {
	return c.conn.NotifyClose(make(chan *amqp091.Error, 1))
}

func (c *Client) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// DeclareTopology declares the fanout exchanges this service reads and
// writes, and binds its two queues.
func (c *Client) DeclareTopology() error {
	for _, ex := range []string{ExchangeOrderPlaced, ExchangeItemsAdded, ExchangeFloorEvents} {
		if err := c.ch.ExchangeDeclare(ex, "fanout", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}
	bindings := map[string]string{
		queueOrders: ExchangeOrderPlaced,
		queueItems:  ExchangeItemsAdded,
	}
	for queue, ex := range bindings {
		if _, err := c.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		// fanout ignores the routing key
		if err := c.ch.QueueBind(queue, "", ex, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", queue, ex, err)
		}
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, exchange, key string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ch.PublishWithContext(ctx, exchange, key, false, false, amqp091.Publishing{
		DeliveryMode: amqp091.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}
