package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vitovidale/video-pipeline/domain"
	"go.uber.org/zap"
)

var errBrokerNack = errors.New("broker rejected message")

// RabbitMQJobQueue publishes job messages to a durable queue with publisher
// confirms. A publish returns only after the broker acknowledged it.
type RabbitMQJobQueue struct {
	url   string
	queue string
	log   *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialRabbitMQ connects with the same bounded retry used for Postgres.
func DialRabbitMQ(ctx context.Context, cfg Config, log *zap.Logger) (*RabbitMQJobQueue, error) {
	q := &RabbitMQJobQueue{
		url:   cfg.RabbitMQURL(),
		queue: cfg.RabbitMQQueue,
		log:   log.Named("rabbitmq"),
	}

	var err error
	for i := 1; i <= connectAttempts; i++ {
		if err = q.connect(); err == nil {
			q.log.Info("connected to rabbitmq", zap.String("host", cfg.RabbitMQHost), zap.String("queue", q.queue))
			return q, nil
		}
		q.log.Warn("rabbitmq not reachable, retrying",
			zap.Int("attempt", i),
			zap.Int("max_attempts", connectAttempts),
			zap.Error(err),
		)
		if i == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", connectAttempts, err)
}

// connect (re)establishes the connection and a confirm-mode channel. Callers
// hold mu, except during construction.
func (q *RabbitMQJobQueue) connect() error {
	if q.conn == nil || q.conn.IsClosed() {
		conn, err := amqp.Dial(q.url)
		if err != nil {
			return err
		}
		q.conn = conn
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(
		q.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	q.ch = ch
	return nil
}

// Publish sends message and returns the broker message id. A message that
// fails validation is never sent and the error wraps ErrMalformedJobMessage.
func (q *RabbitMQJobQueue) Publish(ctx context.Context, message domain.JobMessage) (string, error) {
	if err := message.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedJobMessage, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ch == nil || q.ch.IsClosed() {
		if err := q.connect(); err != nil {
			return "", fmt.Errorf("reconnect to rabbitmq: %w", err)
		}
	}

	messageID := uuid.NewString()
	confirm, err := q.ch.PublishWithDeferredConfirmWithContext(ctx,
		"",
		q.queue,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		q.dropChannel()
		return "", fmt.Errorf("publish job %s: %w", message.JobID, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		q.dropChannel()
		return "", fmt.Errorf("await confirm for job %s: %w", message.JobID, err)
	}
	if !acked {
		return "", fmt.Errorf("job %s: %w", message.JobID, errBrokerNack)
	}
	q.log.Debug("job published", zap.String("job_id", message.JobID), zap.String("message_id", messageID))
	return messageID, nil
}

func (q *RabbitMQJobQueue) dropChannel() {
	if q.ch != nil {
		_ = q.ch.Close()
		q.ch = nil
	}
}

// Healthy opens and closes a throwaway channel, as the health endpoint
// always has.
func (q *RabbitMQJobQueue) Healthy() error {
	q.mu.Lock()
	conn := q.conn
	q.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("disconnected")
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	return ch.Close()
}

func (q *RabbitMQJobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropChannel()
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}
