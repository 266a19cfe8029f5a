package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Task kinds.
const (
	TaskIngestURL  = "ingest_url"
	TaskIngestFile = "ingest_file"
)

const queueKey = "jobs:ingest"

// Task is one unit of queued ingest work.
type Task struct {
	JobID  string `json:"job_id"`
	Kind   string `json:"kind"`
	URL    string `json:"url,omitempty"`
	Path   string `json:"path,omitempty"`
	Source string `json:"source,omitempty"`
	Domain string `json:"domain"`
	Topic  string `json:"topic"`
}

// Queue dispatches tasks to workers with at-least-once semantics over
// a Redis list.
type Queue struct {
	rdb *redis.Client
}

// NewQueue creates a task queue over a Redis client.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue pushes a task for the worker pool.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.rdb.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next task. Returns (nil, nil)
// when the timeout elapses with no work.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	res, err := q.rdb.BRPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}
	if len(res) < 2 {
		return nil, nil
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("corrupt task payload: %w", err)
	}
	return &task, nil
}
