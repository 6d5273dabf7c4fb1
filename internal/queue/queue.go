// Package queue consumes raw messages published to RabbitMQ and hands them to
// a batch handler.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/logging"
	"github.com/mailsift/mailsift/internal/model"
)

const defaultFlushAfter = 2 * time.Second

var ErrDeliveriesClosed = errors.New("delivery channel closed")

// BatchHandler processes one batch. A returned error requeues the batch.
type BatchHandler func(ctx context.Context, msgs []model.RawMessage) error

// declare sets up the durable topic exchange and the bound queue.
func declare(ch *amqp091.Channel, cfg config.AMQPConfig) (amqp091.Queue, error) {
	err := ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind queue: %w", err)
	}
	return q, nil
}

type Consumer struct {
	cfg        config.AMQPConfig
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queue      amqp091.Queue
	handler    BatchHandler
	logger     *zap.Logger
	flushAfter time.Duration
}

func NewConsumer(cfg config.AMQPConfig, handler BatchHandler, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := declare(ch, cfg)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	return &Consumer{
		cfg:        cfg,
		conn:       conn,
		channel:    ch,
		queue:      q,
		handler:    handler,
		logger:     logging.OrNop(logger),
		flushAfter: defaultFlushAfter,
	}, nil
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Run consumes with manual acks until ctx is cancelled or the broker closes
// the channel.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx,
		c.queue.Name,
		"mailsift",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started",
		zap.String("queue", c.queue.Name),
		zap.String("routing_key", c.cfg.RoutingKey),
	)
	return consume(ctx, deliveries, batcher{
		size:       c.cfg.BatchSize,
		flushAfter: c.flushAfter,
		handler:    c.handler,
		logger:     c.logger,
	})
}

type batcher struct {
	size       int
	flushAfter time.Duration
	handler    BatchHandler
	logger     *zap.Logger
}

// consume groups decoded deliveries into batches of at most b.size, flushing
// early when a batch has waited b.flushAfter. A successful batch is acked up
// to its last delivery; a failed one is nacked and requeued. Undecodable
// deliveries are dropped without requeue.
func consume(ctx context.Context, deliveries <-chan amqp091.Delivery, b batcher) error {
	size := b.size
	if size <= 0 {
		size = 1
	}

	var (
		batch  []model.RawMessage
		last   amqp091.Delivery
		flushC <-chan time.Time
	)

	flush := func() {
		flushC = nil
		if len(batch) == 0 {
			return
		}
		if err := b.handler(ctx, batch); err != nil {
			b.logger.Error("Batch failed, requeueing", zap.Int("messages", len(batch)), zap.Error(err))
			_ = last.Nack(true, true)
		} else if err := last.Ack(true); err != nil {
			b.logger.Error("Failed to ack batch", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				_ = last.Nack(true, true)
			}
			return ctx.Err()

		case <-flushC:
			flush()

		case d, ok := <-deliveries:
			if !ok {
				flush()
				return ErrDeliveriesClosed
			}
			var msg model.RawMessage
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				b.logger.Warn("Dropping undecodable delivery", zap.Uint64("tag", d.DeliveryTag), zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			batch = append(batch, msg)
			last = d
			if len(batch) == 1 {
				flushC = time.After(b.flushAfter)
			}
			if len(batch) >= size {
				flush()
			}
		}
	}
}

// Publisher pushes raw messages onto the exchange, for feeding a consumer
// from files.
type Publisher struct {
	cfg     config.AMQPConfig
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func NewPublisher(cfg config.AMQPConfig) (*Publisher, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := declare(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Publisher{cfg: cfg, conn: conn, channel: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, msg model.RawMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		p.cfg.Exchange,
		p.cfg.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
		},
	)
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
