package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"server/internal/infra"
)

// RabbitPublisher publishes event envelopes onto a durable RabbitMQ queue.
type RabbitPublisher struct {
	mu        sync.Mutex
	ch        *amqp091.Channel
	queueName string
	logger    infra.Logger
}

// NewRabbitPublisher opens a channel on the given connection and declares the
// target queue.
func NewRabbitPublisher(conn *amqp091.Connection, queueName string, logger infra.Logger) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: open channel: %w", err)
	}
	if _, err := declareQueue(ch, queueName); err != nil {
		ch.Close()
		return nil, err
	}
	return &RabbitPublisher{ch: ch, queueName: queueName, logger: logger}, nil
}

// Publish validates, wraps and delivers one event. Messages are persistent so
// a broker restart does not drop accepted work.
func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	env, err := Wrap(event)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: encode envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return errors.New("bus: publisher channel is closed")
	}
	err = p.ch.PublishWithContext(ctx,
		"",          // default exchange
		p.queueName, // routing key = queue
		false,       // mandatory
		false,       // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Type:         env.Name,
		},
	)
	if err != nil {
		return fmt.Errorf("bus: publish %s: %w", env.Name, err)
	}
	p.logger.Debug().Str("event", env.Name).Msg("bus: published event")
	return nil
}

// Close releases the publisher channel.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

// Handler processes one decoded event. A returned error means the event was
// not handled; the consumer logs it and acknowledges anyway, because the
// orchestrator owns its own retry budget and requeueing would loop poison
// messages forever.
type Handler func(ctx context.Context, event Event) error

// RabbitConsumer consumes event envelopes from a durable queue and dispatches
// them to handlers registered per event name. Deliveries run concurrently up
// to a bound, so one slow run (a throttled owner, a retrying provider call)
// does not stall deliveries for other jobs.
type RabbitConsumer struct {
	conn         *amqp091.Connection
	queueName    string
	consumerName string
	concurrency  int
	handlers     map[string]Handler
	logger       infra.Logger
}

// NewRabbitConsumer builds a consumer for the named queue. concurrency bounds
// the number of deliveries handled at once (also used as the prefetch count).
func NewRabbitConsumer(conn *amqp091.Connection, queueName, consumerName string, concurrency int, logger infra.Logger) *RabbitConsumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &RabbitConsumer{
		conn:         conn,
		queueName:    queueName,
		consumerName: consumerName,
		concurrency:  concurrency,
		handlers:     make(map[string]Handler),
		logger:       logger,
	}
}

// Subscribe registers the handler invoked for every delivery of the named
// event. Must be called before Run.
func (c *RabbitConsumer) Subscribe(eventName string, handler Handler) {
	c.handlers[eventName] = handler
}

// Run declares the queue and consumes deliveries until the context is
// cancelled. Deliveries are acknowledged manually after the handler returns.
func (c *RabbitConsumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("bus: open channel: %w", err)
	}
	defer ch.Close()

	q, err := declareQueue(ch, c.queueName)
	if err != nil {
		return err
	}
	// Prefetch matches the handling bound so the broker never hands this
	// worker more than it can run.
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("bus: set qos: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		c.consumerName,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("bus: register consumer: %w", err)
	}
	c.logger.Info().Str("queue", q.Name).Int("concurrency", c.concurrency).Msg("bus: consumer started")

	return c.consume(ctx, msgs)
}

// consume dispatches each delivery on its own goroutine, bounded by the
// concurrency limit. A run blocked in the per-owner limiter or sleeping
// between retry attempts only occupies its own slot.
func (c *RabbitConsumer) consume(ctx context.Context, msgs <-chan amqp091.Delivery) error {
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("bus: delivery channel closed")
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				c.logger.Info().Msg("bus: consumer stopping")
				return nil
			}
			wg.Add(1)
			go func(msg amqp091.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				c.handleDelivery(ctx, msg)
			}(msg)
		case <-ctx.Done():
			c.logger.Info().Msg("bus: consumer stopping")
			return nil
		}
	}
}

func (c *RabbitConsumer) handleDelivery(ctx context.Context, msg amqp091.Delivery) {
	event, err := c.decode(msg.Body)
	if err != nil {
		// Malformed payloads are acknowledged: redelivery cannot fix them.
		c.logger.Error().Err(err).Str("type", msg.Type).Msg("bus: dropping invalid delivery")
		c.ack(msg)
		return
	}

	handler, ok := c.handlers[event.EventName()]
	if !ok {
		c.logger.Error().Str("event", event.EventName()).Msg("bus: no handler registered")
		c.ack(msg)
		return
	}

	if err := handler(ctx, event); err != nil {
		c.logger.Error().Err(err).Str("event", event.EventName()).Msg("bus: handler failed")
	}
	c.ack(msg)
}

func (c *RabbitConsumer) decode(body []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("bus: decode envelope: %w", err)
	}
	return Unwrap(&env)
}

func (c *RabbitConsumer) ack(msg amqp091.Delivery) {
	if err := msg.Ack(false); err != nil {
		c.logger.Error().Err(err).Uint64("delivery_tag", msg.DeliveryTag).Msg("bus: ack failed")
	}
}

func declareQueue(ch *amqp091.Channel, name string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("bus: declare queue %s: %w", name, err)
	}
	return q, nil
}

// Connection aliases the broker connection so entry points do not import
// the amqp client directly.
type Connection = amqp091.Connection

// Dial connects to RabbitMQ.
func Dial(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("bus: connect rabbitmq: %w", err)
	}
	return conn, nil
}
