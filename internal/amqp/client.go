package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	applog "octopus/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second

	reloadRoutingKey = "reload"
)

// ErrCircuitOpen is returned while the broker is considered unavailable.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// channel is the subset of *amqp091.Channel the client uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	Close() error
}

// ReloadHandler processes one reload request. Returning an error requeues it.
type ReloadHandler func(ctx context.Context, req *ReloadRequest) error

type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *applog.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel channel

	state        int32
	failureCount int64
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string, logger *applog.Logger) (*Client, error) {
	if logger == nil {
		logger = applog.Nop()
	}
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger,
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(ch, c.exchangeName, c.queueName); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()
	return nil
}

func setup(ch *amqp091.Channel, exchangeName, queueName string) error {
	err := ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Reload requests are routed to our queue; snapshot events are left for
	// whoever binds to them.
	if err := ch.QueueBind(queueName, reloadRoutingKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

func (c *Client) currentChannel() channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// reconnect drops the current connection and dials again.
func (c *Client) reconnect() error {
	c.mu.Lock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.channel = nil, nil
	c.mu.Unlock()
	return c.connect()
}

// PublishSnapshot publishes a snapshot-settled event.
func (c *Client) PublishSnapshot(ctx context.Context, event *SnapshotEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal snapshot event: %w", err)
	}
	if err := c.publish(ctx, event.RoutingKey(), event.EventID, body); err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "Published snapshot event",
		applog.FieldEventID, event.EventID,
		applog.FieldDomain, event.Domain,
		applog.FieldStatus, event.Status,
		applog.FieldGeneration, event.Generation)
	return nil
}

// PublishReloadRequest asks a running worker to reload.
func (c *Client) PublishReloadRequest(ctx context.Context, req *ReloadRequest) error {
	body, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal reload request: %w", err)
	}
	return c.publish(ctx, reloadRoutingKey, "", body)
}

func (c *Client) publish(ctx context.Context, key, messageID string, body []byte) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish %s: %w", key, ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.currentChannel()
	if ch == nil {
		if err := c.reconnect(); err != nil {
			c.recordFailure()
			return fmt.Errorf("publish %s: %w", key, err)
		}
		ch = c.currentChannel()
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		key,            // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.mu.Lock()
			c.channel = nil
			c.mu.Unlock()
		}
		return fmt.Errorf("publish %s: %w", key, err)
	}
	c.recordSuccess()
	return nil
}

// ConsumeReloadRequests delivers reload requests to handler until ctx is
// cancelled. Malformed messages are dropped, handler errors requeue the
// message, and a lost connection is re-established with backoff.
func (c *Client) ConsumeReloadRequests(ctx context.Context, handler ReloadHandler) error {
	attempt := 0
	for {
		ch := c.currentChannel()
		if ch == nil {
			if err := c.reconnect(); err != nil {
				c.recordFailure()
				wait := exponentialBackoff(attempt)
				attempt++
				c.logger.WarnContext(ctx, "AMQP reconnect failed", applog.FieldError, err, "retry_in", wait)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
				continue
			}
			ch = c.currentChannel()
		}

		msgs, err := ch.Consume(
			c.queueName, // queue
			"",          // consumer
			false,       // auto-ack
			false,       // exclusive
			false,       // no-local
			false,       // no-wait
			nil,         // args
		)
		if err != nil {
			c.mu.Lock()
			c.channel = nil
			c.mu.Unlock()
			if !isConnectionError(err) {
				return fmt.Errorf("start consuming: %w", err)
			}
			continue
		}
		attempt = 0
		c.recordSuccess()
		c.logger.InfoContext(ctx, "Started consuming reload requests", "queue", c.queueName)

		if err := c.drain(ctx, msgs, handler); err != nil {
			return err
		}
		c.logger.WarnContext(ctx, "Delivery channel closed, reconnecting")
		c.mu.Lock()
		c.channel = nil
		c.mu.Unlock()
	}
}

// drain processes deliveries until msgs closes (nil) or ctx ends (ctx.Err()).
func (c *Client) drain(ctx context.Context, msgs <-chan amqp091.Delivery, handler ReloadHandler) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return nil
			}

			req, err := ReloadRequestFromJSON(delivery.Body)
			if err != nil {
				c.logger.ErrorContext(ctx, "Dropping malformed reload request", applog.FieldError, err)
				delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, req); err != nil {
				c.logger.ErrorContext(ctx, "Failed to handle reload request",
					applog.FieldError, err, applog.FieldDomain, req.Domain)
				delivery.Nack(false, true)
				continue
			}

			delivery.Ack(false)
			c.logger.DebugContext(ctx, "Processed reload request", applog.FieldDomain, req.Domain)
		}
	}
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.mu.Lock()
		elapsed := time.Since(c.lastFailure)
		c.mu.Unlock()
		if elapsed > openTimeout {
			atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << uint(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "eof", "broken pipe", "closed network connection", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
