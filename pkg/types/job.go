package types

import "time"

// JobStatus is the lifecycle state of a background job.
type JobStatus string

// Job lifecycle states.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobState is the persisted record of a background ingest job.
type JobState struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Step      string    `json:"step"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the job has finished.
func (j *JobState) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
