// Package trigger consumes inbound mail events from the notification queue
// and drives the relay with them.
package trigger

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sirupsen/logrus"

	"github.com/lampions/lampions-go/internal/event"
	"github.com/lampions/lampions-go/internal/metrics"
)

// Handler relays one inbound message by id.
type Handler interface {
	HandleMessage(ctx context.Context, messageID string) error
}

// Deduper remembers which message ids were already relayed.
type Deduper interface {
	Seen(ctx context.Context, messageID string) bool
	Mark(ctx context.Context, messageID string)
}

// Consumer long-polls the notification queue and hands each event to the
// handler. Messages are deleted once handled; failed messages stay on the
// queue and come back after the visibility timeout.
type Consumer struct {
	client   *sqs.Client
	queueURL string
	handler  Handler
	dedup    Deduper
	metrics  *metrics.Relay
	done     chan struct{}
}

// NewConsumer returns a consumer for the given queue. dedup and m may be
// nil.
func NewConsumer(client *sqs.Client, queueURL string, handler Handler, dedup Deduper, m *metrics.Relay) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		handler:  handler,
		dedup:    dedup,
		metrics:  m,
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop.
func (c *Consumer) Start(ctx context.Context) {
	logrus.WithField("queue", c.queueURL).Info("Notification queue consumer started")
	go c.poll(ctx)
}

// Stop terminates the polling loop after the current receive returns.
func (c *Consumer) Stop() {
	close(c.done)
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithError(err).Error("Failed to receive from notification queue")
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range out.Messages {
			if c.handle(ctx, aws.ToString(msg.Body)) {
				c.delete(ctx, msg.ReceiptHandle)
			}
		}
	}
}

// handle processes one queue message body and reports whether the message
// should be deleted. Bodies without a message id can never succeed and are
// dropped; relay failures leave the message for redelivery.
func (c *Consumer) handle(ctx context.Context, body string) bool {
	messageID, err := event.MessageID([]byte(body))
	if err != nil {
		logrus.WithError(err).Warn("Dropping undecodable queue message")
		return true
	}

	if c.dedup != nil && c.dedup.Seen(ctx, messageID) {
		c.metrics.Duplicate()
		logrus.WithField("messageId", messageID).Info("Skipping duplicate message")
		return true
	}

	if err := c.handler.HandleMessage(ctx, messageID); err != nil {
		// The relay already logged the cause.
		return false
	}

	if c.dedup != nil {
		c.dedup.Mark(ctx, messageID)
	}
	return true
}

func (c *Consumer) delete(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logrus.WithError(err).Warn("Failed to delete queue message")
	}
}
