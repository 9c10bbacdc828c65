package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures = 5
	openTimeout = 30 * time.Second
	maxBackoff  = 30 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config describes the broker topology and connection policy.
type Config struct {
	URL      string
	Exchange string
	Queue    string

	// DialAttempts bounds the connection attempts made by NewClient.
	DialAttempts uint
	// PublishTimeout bounds a single publish.
	PublishTimeout time.Duration
}

type Client struct {
	url            string
	exchangeName   string
	queueName      string
	dialAttempts   uint
	publishTimeout time.Duration

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time
}

// NewClient connects to the broker and declares the durable exchange and
// queue. Connection failures are retried with exponential backoff; other
// errors such as bad credentials fail immediately.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = 5
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	client := &Client{
		url:            cfg.URL,
		exchangeName:   cfg.Exchange,
		queueName:      cfg.Queue,
		dialAttempts:   cfg.DialAttempts,
		publishTimeout: cfg.PublishTimeout,
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if err := client.connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// connect dials and declares the topology. Callers hold c.mu.
func (c *Client) connect(ctx context.Context) error {
	var conn *amqp091.Connection
	attempt := 0
	err := retry.Do(
		func() error {
			var err error
			conn, err = amqp091.Dial(c.url)
			return err
		},
		retry.RetryIf(isConnectionError),
		retry.Attempts(c.dialAttempts),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return exponentialBackoff(int(n))
		}),
		retry.OnRetry(func(n uint, err error) {
			attempt = int(n) + 1
			slog.WarnContext(ctx, "AMQP dial failed, retrying",
				"attempt", attempt,
				"error", err)
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := declare(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

func declare(channel *amqp091.Channel, exchangeName, queueName string) error {
	// Declare exchange
	err := channel.ExchangeDeclare(
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

	// Declare queue
	_, err = channel.QueueDeclare(
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

	// Bind queue to exchange
	err = channel.QueueBind(
		queueName,    // queue name
		queueName,    // routing key (same as queue name for direct exchange)
		exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// PublishMonthChanged publishes a month_changed event. It fails fast while
// the circuit breaker is open and reconnects lazily after a dropped
// connection.
func (c *Client) PublishMonthChanged(ctx context.Context, year, month int, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish month %04d-%02d: %w", year, month, ErrCircuitOpen)
	}

	msg := NewMonthChangedMessage(year, month, reason)
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil || c.channel.IsClosed() {
		if err := c.connect(ctx); err != nil {
			c.recordFailure()
			return fmt.Errorf("reconnect: %w", err)
		}
	}

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent, // make message persistent
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.dropLocked()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	slog.DebugContext(ctx, "Published month changed message",
		"year", year,
		"month", month,
		"reason", reason,
		"exchange", c.exchangeName)

	return nil
}

// ConsumeMonthChanged delivers messages to handler one at a time until ctx
// is done. Successful handling acks; handler errors nack with requeue;
// malformed messages are dropped.
func (c *Client) ConsumeMonthChanged(ctx context.Context, handler func(context.Context, *MonthChangedMessage) error) error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return errors.New("amqp channel not open")
	}

	if err := channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming month changed messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			handleDelivery(ctx, delivery, handler)
		}
	}
}

// acknowledger is the subset of amqp091.Delivery used to settle a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler func(context.Context, *MonthChangedMessage) error) {
	settle(ctx, delivery.Body, delivery, handler)
}

func settle(ctx context.Context, body []byte, ack acknowledger, handler func(context.Context, *MonthChangedMessage) error) {
	msg, err := MonthChangedMessageFromJSON(body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err)
		ack.Nack(false, false) // reject and don't requeue
		return
	}

	if err := handler(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to handle message",
			"error", err,
			"year", msg.Year,
			"month", msg.Month)
		ack.Nack(false, true) // reject and requeue
		return
	}

	ack.Ack(false) // acknowledge successful processing
	slog.DebugContext(ctx, "Processed month changed message",
		"year", msg.Year,
		"month", msg.Month,
		"reason", msg.Reason)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn, c.channel = nil, nil
		return err
	}
	return nil
}

func (c *Client) dropLocked() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.channel = nil, nil
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	if time.Since(c.lastFailure) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.lastFailure = time.Now()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff returns 1s, 2s, 4s... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// isConnectionError reports whether err means the broker could not be
// reached or the connection dropped. Only these are worth retrying.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, amqp091.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "connection reset", "unexpected eof", "broken pipe", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
