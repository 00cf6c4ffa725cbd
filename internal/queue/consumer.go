package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/prcopilot/internal/triage"
)

const pollTimeout = time.Second

// Consumer reads tasks from the broker and runs them through the retry
// boundary. Offsets commit only after the runner finishes, so a crash
// mid-task redelivers it; the store's idempotency absorbs the duplicate.
type Consumer struct {
	consumer *kafka.Consumer
	runner   *triage.Runner
	topic    string
	logger   log.Logger
}

// NewConsumer joins the worker consumer group.
func NewConsumer(brokers, group, topic string, runner *triage.Runner, logger log.Logger) (*Consumer, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if topic == "" {
		topic = DefaultTopic
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           group,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	if err := c.SubscribeTopics([]string{topic}, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	return &Consumer{consumer: c, runner: runner, topic: topic, logger: logger}, nil
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info(ctx, "worker consuming", "topic", c.topic)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := c.consumer.ReadMessage(pollTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.IsTimeout() {
				continue
			}
			c.logger.Error(ctx, err, "read message failed")
			continue
		}

		herr := c.handle(ctx, msg)

		if !commitAfter(ctx, herr) {
			// Shutdown interrupted the task before it ran to completion.
			// Leave the offset where it is so the broker redelivers after
			// restart; the store's per-PR uniqueness absorbs any partial work.
			c.logger.Warn(ctx, "task interrupted by shutdown, offset not committed",
				"partition", msg.TopicPartition.Partition,
				"offset", msg.TopicPartition.Offset.String(),
			)
			return herr
		}

		// Poison payloads and retry-budget exhaustion both commit: the task
		// is terminal, not requeued.
		if _, err := c.consumer.CommitMessage(msg); err != nil {
			c.logger.Error(ctx, err, "commit offset failed")
		}
	}
}

// handle decodes and runs one message. The returned error is the runner's;
// undecodable payloads are dropped here and report nil, since redelivery
// cannot fix the bytes.
func (c *Consumer) handle(ctx context.Context, msg *kafka.Message) error {
	task, err := DecodeTask(msg.Value)
	if err != nil {
		c.logger.Error(ctx, err, "bad task payload, dropping",
			"partition", msg.TopicPartition.Partition,
			"offset", msg.TopicPartition.Offset.String(),
		)
		return nil
	}

	_, err = c.runner.Run(ctx, task)
	return err
}

// commitAfter reports whether the message's offset may be committed after
// handling. Cancellation means the task was cut short, not that it failed:
// acking it would silently drop work, so those offsets stay uncommitted.
func commitAfter(ctx context.Context, err error) bool {
	if err == nil {
		return true
	}
	return ctx.Err() == nil && !errors.Is(err, context.Canceled)
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}
