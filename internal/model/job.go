package model

import (
	"time"

	"github.com/google/uuid"
)

// JobType identifies which pipeline stage a job runs.
type JobType string

const (
	JobDraftAndSearch  JobType = "DRAFT_AND_SEARCH"
	JobExtractAndEmbed JobType = "EXTRACT_AND_EMBED"
)

// JobStatus is a background job's state.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// MaxJobAttempts is the retry budget. A job whose retry_count has reached
// this value is dead-lettered: never claimable again, remediation is an
// operator action.
const MaxJobAttempts = 3

// JobPayload references the decision a job operates on.
type JobPayload struct {
	DecisionID uuid.UUID `json:"decision_id"`
}

// Job is a durable unit of asynchronous work. Delivery is at-least-once:
// handlers must tolerate re-running for the same decision.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	Type        JobType    `json:"type"`
	Payload     JobPayload `json:"payload"`
	Status      JobStatus  `json:"status"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt time.Time  `json:"next_retry_at"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
