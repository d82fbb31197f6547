package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"crmsync/internal/services"
)

// SyncTask is the wire payload of one queued sync request.
type SyncTask struct {
	TaskID      string   `json:"task_id"`
	RecordID    string   `json:"record_id"`
	TriggeredBy string   `json:"triggered_by"`
	Reason      string   `json:"reason"`
	Channels    []string `json:"channels,omitempty"`
	Attempt     int      `json:"attempt"`
}

// Publisher enqueues sync tasks onto a durable RabbitMQ queue. When no
// broker URL is configured the publisher is disabled and every enqueue
// is a logged no-op, so the HTTP surface keeps working without a broker.
type Publisher struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	queueName string
	enabled   bool
}

// NewPublisher connects to the broker. An empty URL yields a disabled
// publisher, not an error.
func NewPublisher(url, queueName, prefix string) (*Publisher, error) {
	if queueName == "" {
		return nil, fmt.Errorf("queue name cannot be empty")
	}
	fullName := queueName
	if prefix != "" {
		fullName = prefix + "_" + queueName
	}

	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set. Task queue publishing disabled.")
		return &Publisher{queueName: fullName, enabled: false}, nil
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}

	log.Info().Str("queue", fullName).Msg("RabbitMQ connection established")
	return &Publisher{conn: conn, channel: channel, queueName: fullName, enabled: true}, nil
}

// EnqueueSync queues a sync task and returns its handle. A positive
// delay defers the publish with an in-process timer; the handle is
// returned immediately either way.
func (p *Publisher) EnqueueSync(recordID, triggeredBy, reason string, channels []string, delay time.Duration) (string, error) {
	if recordID == "" {
		return "", fmt.Errorf("record ID cannot be empty")
	}

	task := SyncTask{
		TaskID:      uuid.NewString(),
		RecordID:    recordID,
		TriggeredBy: triggeredBy,
		Reason:      reason,
		Channels:    channels,
	}

	if !p.enabled {
		log.Debug().Str("recordID", recordID).Msg("Task queue disabled, sync task not published")
		return task.TaskID, nil
	}

	if delay > 0 {
		time.AfterFunc(delay, func() {
			if err := p.publish(task); err != nil {
				log.Error().Err(err).Str("taskID", task.TaskID).Str("recordID", task.RecordID).Msg("Deferred sync task publish failed")
			}
		})
		return task.TaskID, nil
	}

	if err := p.publish(task); err != nil {
		return "", err
	}
	return task.TaskID, nil
}

// Republish re-queues an existing task, preserving its handle so the
// consumer reuses the same job row.
func (p *Publisher) Republish(task SyncTask, delay time.Duration) error {
	if !p.enabled {
		return fmt.Errorf("task queue is disabled")
	}
	if delay > 0 {
		time.AfterFunc(delay, func() {
			if err := p.publish(task); err != nil {
				log.Error().Err(err).Str("taskID", task.TaskID).Msg("Task retry publish failed")
			}
		})
		return nil
	}
	return p.publish(task)
}

func (p *Publisher) publish(task SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("could not marshal sync task: %w", err)
	}

	// Declare queue (idempotent)
	_, err = p.channel.QueueDeclare(
		p.queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("could not declare queue %s: %w", p.queueName, err)
	}

	err = p.channel.Publish(
		"",          // exchange (default)
		p.queueName, // routing key = queue
		false,       // mandatory
		false,       // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Body:         data,
		},
	)
	if err != nil {
		return fmt.Errorf("could not publish to queue %s: %w", p.queueName, err)
	}
	log.Debug().Str("queue", p.queueName).Str("taskID", task.TaskID).Str("recordID", task.RecordID).Msg("Sync task published")
	return nil
}

// Close tears down the broker connection.
func (p *Publisher) Close() {
	if !p.enabled {
		return
	}
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// SyncRunner executes one sync request. Satisfied by
// services.RecordSyncService.
type SyncRunner interface {
	SyncRecord(ctx context.Context, req services.SyncRequest) services.SyncResult
}

// Consumer pulls sync tasks off the queue and runs them. Failed tasks
// are retried with exponential backoff up to maxRetries attempts; an
// exhausted task is dropped and its job stays failed.
type Consumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queueName  string
	runner     SyncRunner
	publisher  *Publisher
	maxRetries int
	retryBase  time.Duration
}

// NewConsumer connects a consumer to the broker.
func NewConsumer(url, queueName, prefix string, runner SyncRunner, publisher *Publisher, maxRetries int) (*Consumer, error) {
	if url == "" {
		return nil, fmt.Errorf("RabbitMQ URL cannot be empty for consumer")
	}
	if runner == nil {
		return nil, fmt.Errorf("sync runner cannot be nil for consumer")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil for consumer")
	}
	fullName := queueName
	if prefix != "" {
		fullName = prefix + "_" + queueName
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}
	if err := channel.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not set channel QoS: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Consumer{
		conn:       conn,
		channel:    channel,
		queueName:  fullName,
		runner:     runner,
		publisher:  publisher,
		maxRetries: maxRetries,
		retryBase:  30 * time.Second,
	}, nil
}

// Start consumes tasks until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	_, err := c.channel.QueueDeclare(c.queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("could not declare queue %s: %w", c.queueName, err)
	}

	deliveries, err := c.channel.Consume(
		c.queueName,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("could not start consuming from %s: %w", c.queueName, err)
	}
	log.Info().Str("queue", c.queueName).Msg("Sync task consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", c.queueName)
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp091.Delivery) {
	var task SyncTask
	if err := json.Unmarshal(delivery.Body, &task); err != nil {
		log.Error().Err(err).Msg("Could not unmarshal sync task, dropping")
		delivery.Ack(false)
		return
	}

	result := c.runner.SyncRecord(ctx, services.SyncRequest{
		RecordID:    task.RecordID,
		TriggeredBy: task.TriggeredBy,
		Reason:      task.Reason,
		Channels:    task.Channels,
		TaskHandle:  task.TaskID,
	})

	if !result.Success {
		c.retry(task, result.Error)
	}
	// Ack regardless: retries go through a fresh publish with a bumped
	// attempt counter, never through broker redelivery.
	delivery.Ack(false)
}

// nextRetry derives the follow-up task for a failed delivery. The retry
// carries a fresh handle so the orchestrator opens a new job for it
// instead of matching the failed one. Returns false when the attempt
// budget is exhausted.
func nextRetry(task SyncTask, maxRetries int, base time.Duration) (SyncTask, time.Duration, bool) {
	if task.Attempt+1 >= maxRetries {
		return task, 0, false
	}
	task.TaskID = uuid.NewString()
	task.Attempt++
	return task, base * time.Duration(1<<uint(task.Attempt-1)), true
}

func (c *Consumer) retry(task SyncTask, reason string) {
	retryTask, backoff, ok := nextRetry(task, c.maxRetries, c.retryBase)
	if !ok {
		log.Error().
			Str("taskID", task.TaskID).
			Str("recordID", task.RecordID).
			Int("attempts", task.Attempt+1).
			Str("error", reason).
			Msg("Sync task exhausted retries, giving up")
		return
	}

	task = retryTask
	if err := c.publisher.Republish(task, backoff); err != nil {
		log.Error().Err(err).Str("taskID", task.TaskID).Msg("Could not schedule sync task retry")
		return
	}
	log.Warn().
		Str("taskID", task.TaskID).
		Str("recordID", task.RecordID).
		Int("attempt", task.Attempt).
		Dur("backoff", backoff).
		Str("error", reason).
		Msg("Sync task failed, retry scheduled")
}

// Close tears down the consumer's broker connection.
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
