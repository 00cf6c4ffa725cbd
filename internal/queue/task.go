// Package queue moves dispatch tasks through Kafka. The broker delivers
// at-least-once; idempotency lives downstream in the result store.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/prcopilot/internal/triage"
)

// DefaultTopic is the task topic unless configured otherwise.
const DefaultTopic = "prcopilot.tasks"

// EncodeTask serializes a task for the broker.
func EncodeTask(task *triage.Task) ([]byte, error) {
	b, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return b, nil
}

// DecodeTask deserializes a broker message into a task.
func DecodeTask(data []byte) (*triage.Task, error) {
	var task triage.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	if task.ID == "" || task.Signal.GitHubPRID == 0 {
		return nil, fmt.Errorf("decode task: missing id or pr id")
	}
	return &task, nil
}
