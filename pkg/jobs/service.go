// Package jobs persists background ingest job state in Redis and
// dispatches work to the worker pool through a Redis list.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/docsage/docsage/pkg/types"
)

// ErrNotFound is returned on lookup of an unknown job ID.
var ErrNotFound = errors.New("job not found")

// Job records expire after roughly 13 hours.
const jobTTL = 48200 * time.Second

const jobKeyPrefix = "job:"

// Service owns JobState transitions. Workers mutate state through it
// only; the HTTP edge just reads.
type Service struct {
	rdb *redis.Client

	now func() time.Time
}

// NewService creates a job service over a Redis client.
func NewService(rdb *redis.Client) *Service {
	return &Service{rdb: rdb, now: time.Now}
}

// Create allocates a job ID and persists the queued record.
func (s *Service) Create(ctx context.Context) (*types.JobState, error) {
	now := s.now().UTC()
	state := &types.JobState{
		JobID:     uuid.NewString(),
		Status:    types.JobQueued,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Get returns the job record or ErrNotFound.
func (s *Service) Get(ctx context.Context, jobID string) (*types.JobState, error) {
	data, err := s.rdb.Get(ctx, jobKeyPrefix+jobID).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("job lookup failed: %w", err)
	}

	var state types.JobState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt job record %s: %w", jobID, err)
	}
	return &state, nil
}

// UpdateStatus transitions the job to a new status.
func (s *Service) UpdateStatus(ctx context.Context, jobID string, status types.JobStatus, step string) error {
	return s.mutate(ctx, jobID, func(state *types.JobState) {
		state.Status = status
		state.Step = step
	})
}

// UpdateProgress records progress and the current step.
func (s *Service) UpdateProgress(ctx context.Context, jobID string, progress int, step string) error {
	return s.mutate(ctx, jobID, func(state *types.JobState) {
		state.Progress = progress
		state.Step = step
	})
}

// Complete marks the job finished.
func (s *Service) Complete(ctx context.Context, jobID string) error {
	return s.mutate(ctx, jobID, func(state *types.JobState) {
		state.Status = types.JobCompleted
		state.Progress = 100
	})
}

// Fail marks the job failed with the error message.
func (s *Service) Fail(ctx context.Context, jobID string, errMsg string) error {
	return s.mutate(ctx, jobID, func(state *types.JobState) {
		state.Status = types.JobFailed
		state.Error = errMsg
	})
}

// mutate applies a read-modify-write on the serialized record. The
// worker owns the job during execution, so no stronger coordination is
// needed.
func (s *Service) mutate(ctx context.Context, jobID string, fn func(*types.JobState)) error {
	state, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	fn(state)
	state.UpdatedAt = s.now().UTC()
	return s.save(ctx, state)
}

func (s *Service) save(ctx context.Context, state *types.JobState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal job state: %w", err)
	}
	if err := s.rdb.Set(ctx, jobKeyPrefix+state.JobID, data, jobTTL).Err(); err != nil {
		return fmt.Errorf("failed to persist job state: %w", err)
	}
	return nil
}
