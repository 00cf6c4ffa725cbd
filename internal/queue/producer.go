package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/prcopilot/internal/triage"
)

const flushTimeoutMs = 5000

// Producer enqueues tasks onto the broker. It implements triage.Dispatcher
// for queued mode: Dispatch returns as soon as delivery is confirmed, with
// just the task id.
type Producer struct {
	producer *kafka.Producer
	topic    string
	logger   log.Logger
}

// NewProducer connects to the broker.
func NewProducer(brokers, topic string, logger log.Logger) (*Producer, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if topic == "" {
		topic = DefaultTopic
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return &Producer{producer: p, topic: topic, logger: logger}, nil
}

// Dispatch publishes the task and waits for broker acknowledgement. Messages
// are keyed by PR id so retried deliveries of one PR stay ordered within a
// partition.
func (p *Producer) Dispatch(ctx context.Context, task *triage.Task) (*triage.Dispatched, error) {
	value, err := EncodeTask(task)
	if err != nil {
		return nil, err
	}

	deliveryCh := make(chan kafka.Event, 1)
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(strconv.FormatInt(task.Signal.GitHubPRID, 10)),
		Value:          value,
	}

	if err := p.producer.Produce(msg, deliveryCh); err != nil {
		return nil, fmt.Errorf("produce task: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev := <-deliveryCh:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return nil, fmt.Errorf("unexpected delivery event %T", ev)
		}
		if m.TopicPartition.Error != nil {
			return nil, fmt.Errorf("deliver task: %w", m.TopicPartition.Error)
		}
	}

	p.logger.Info(ctx, "task enqueued",
		"task_id", task.ID,
		"topic", p.topic,
		"pr_id", task.Signal.GitHubPRID,
		"action", task.Action,
	)

	return &triage.Dispatched{TaskID: task.ID, Mode: triage.ModeQueued}, nil
}

// Close flushes outstanding deliveries and releases the producer.
func (p *Producer) Close() {
	p.producer.Flush(flushTimeoutMs)
	p.producer.Close()
}
