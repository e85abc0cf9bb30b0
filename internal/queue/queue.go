// internal/queue/queue.go
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	DispatchQueue = "message_dispatch"
	maxJobRetries = 3
	retryCountHdr = "x-retry-count"
)

// DispatchJob asks a worker to deliver one outbound message.
type DispatchJob struct {
	MessageID string `json:"message_id"`
}

// Publisher enqueues dispatch jobs for the worker fleet.
type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := declareDispatchQueue(ch); err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func declareDispatchQueue(ch *amqp.Channel) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		DispatchQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return q, fmt.Errorf("declare queue: %w", err)
	}
	return q, nil
}

func (p *Publisher) PublishDispatch(messageID string) error {
	body, err := json.Marshal(DispatchJob{MessageID: messageID})
	if err != nil {
		return err
	}
	return p.ch.Publish(
		"",            // default exchange
		DispatchQueue, // routing key
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

// Consume runs handler for each dispatch job with manual acks. A failed
// job is re-published with an incremented retry-count header up to
// maxJobRetries, then acked away so a poison message cannot wedge the
// queue. A broker requeue via Nack would redeliver with the original
// headers and never hit the cap. Blocks until the channel closes.
func Consume(conn *amqp.Connection, handler func(DispatchJob) error, logger *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q, err := declareDispatchQueue(ch)
	if err != nil {
		return err
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",    // consumer tag
		false, // manual ack
		false, false, false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for d := range deliveries {
		var job DispatchJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			logger.Error("invalid dispatch job, dropping", zap.Error(err))
			_ = d.Ack(false)
			continue
		}

		if err := handler(job); err != nil {
			retries := retryCount(d.Headers)
			if retries < maxJobRetries {
				logger.Warn("dispatch job failed, requeueing",
					zap.String("message_id", job.MessageID),
					zap.Int("retries", retries),
					zap.Error(err))
				if pubErr := ch.Publish("", DispatchQueue, false, false, retryPublishing(d.Body, retries+1)); pubErr != nil {
					logger.Error("requeue publish failed, leaving job unacked",
						zap.String("message_id", job.MessageID), zap.Error(pubErr))
					_ = d.Nack(false, true)
					continue
				}
			} else {
				logger.Error("dispatch job permanently failed",
					zap.String("message_id", job.MessageID),
					zap.Error(err))
			}
		}
		_ = d.Ack(false)
	}
	return nil
}

// retryPublishing wraps a failed job body for re-publication with the
// retry count it has consumed so far.
func retryPublishing(body []byte, retries int) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryCountHdr: int32(retries)},
		Body:         body,
	}
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[retryCountHdr].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}
